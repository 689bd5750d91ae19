package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/config"
	"github.com/sciml-hpc/gpulaunch/internal/models"
)

func newTestSlurmScheduler(t *testing.T) *SlurmScheduler {
	t.Helper()
	return NewSlurmScheduler(config.SlurmConfig{
		SbatchPath: "sbatch",
		SubmitDir:  t.TempDir(),
	}, zap.NewNop())
}

func TestSlurmSubmitReturnsJobID(t *testing.T) {
	s := newTestSlurmScheduler(t)
	s.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte("Submitted batch job 987654\n"), nil, nil
	}

	result, err := s.Submit(context.Background(), gpuTrainingRequest(t))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "987654", result.JobID)
	assert.Equal(t, "slurm", result.Backend)
}

func TestSlurmSubmitStagesRenderedScript(t *testing.T) {
	s := newTestSlurmScheduler(t)

	var stagedScript string
	s.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		require.Len(t, args, 1)
		data, err := os.ReadFile(args[0])
		require.NoError(t, err)
		stagedScript = string(data)
		return []byte("Submitted batch job 1\n"), nil, nil
	}

	jr := gpuTrainingRequest(t)
	_, err := s.Submit(context.Background(), jr)
	require.NoError(t, err)
	assert.Equal(t, RenderBatchScript(jr), stagedScript)
}

func TestSlurmSubmitRejection(t *testing.T) {
	s := newTestSlurmScheduler(t)
	s.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, []byte("sbatch: error: Batch job submission failed: Invalid partition name specified\n"),
			errors.New("exit status 1")
	}

	result, err := s.Submit(context.Background(), gpuTrainingRequest(t))
	require.Error(t, err)
	// One explicit failure, no identifier: never both, never neither.
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrSubmissionRejected)
	assert.Contains(t, err.Error(), "Invalid partition name")
}

func TestSlurmSubmitUnrecognizedOutput(t *testing.T) {
	s := newTestSlurmScheduler(t)
	s.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte("something unexpected"), nil, nil
	}

	result, err := s.Submit(context.Background(), gpuTrainingRequest(t))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrSubmissionRejected)
}

func TestSlurmResubmissionIsIndependent(t *testing.T) {
	s := newTestSlurmScheduler(t)
	jobID := 100
	var scriptPaths []string
	s.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		jobID++
		scriptPaths = append(scriptPaths, args[0])
		return []byte(fmt.Sprintf("Submitted batch job %d\n", jobID)), nil, nil
	}

	jr := gpuTrainingRequest(t)
	first, err := s.Submit(context.Background(), jr)
	require.NoError(t, err)
	second, err := s.Submit(context.Background(), jr)
	require.NoError(t, err)

	assert.NotEqual(t, first.JobID, second.JobID)
	require.Len(t, scriptPaths, 2)
	assert.NotEqual(t, scriptPaths[0], scriptPaths[1])
}
