package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/config"
	"github.com/sciml-hpc/gpulaunch/internal/models"
	"github.com/sciml-hpc/gpulaunch/internal/runner"
)

type recordingPublisher struct {
	updates []*models.JobStatusUpdate
}

func (p *recordingPublisher) PublishStatus(update *models.JobStatusUpdate) error {
	p.updates = append(p.updates, update)
	return nil
}

type orderedActionRunner struct {
	ran    []string
	failAt int
}

func (r *orderedActionRunner) RunAction(ctx context.Context, workdir, command string) error {
	if r.failAt >= 0 && len(r.ran) == r.failAt {
		return fmt.Errorf("action failed")
	}
	r.ran = append(r.ran, command)
	return nil
}

func newTestHandler(t *testing.T, failAt int) (*Handler, *recordingPublisher, *orderedActionRunner, *config.Config) {
	t.Helper()
	cfg := &config.Config{
		InstanceID:   "agent-test",
		WorkspaceDir: t.TempDir(),
	}
	publisher := &recordingPublisher{}
	actions := &orderedActionRunner{failAt: failAt}
	h := NewHandler(cfg, zap.NewNop(), publisher, runner.New(actions, zap.NewNop()))
	return h, publisher, actions, cfg
}

func queuedJob(t *testing.T, cfg *config.Config) *models.JobRequest {
	t.Helper()
	jobID := "job-abc"

	// Stage the payload script where the job's workspace will be.
	workspace := filepath.Join(cfg.WorkspaceDir, jobID)
	require.NoError(t, os.MkdirAll(workspace, 0755))
	scriptPath := filepath.Join(workspace, "restart.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("echo update one\n"), 0755))

	wall, err := models.ParseWalltime("00-01:20")
	require.NoError(t, err)
	return &models.JobRequest{
		ID:         jobID,
		Name:       "test_nn_gpu",
		OutputPath: "run_updates.txt",
		Resources: models.Resources{
			GPUCount:  4,
			Partition: "gpu",
			Tasks:     12,
			Nodes:     1,
			WallClock: wall,
		},
		SetupActions: []models.SetupAction{
			{Command: "module load python/3.7"},
			{Command: "module load cuda/10.1"},
		},
		Payload: models.Payload{Interpreter: "sh", Script: scriptPath},
	}
}

func TestHandleJobSuccess(t *testing.T) {
	h, publisher, actions, cfg := newTestHandler(t, -1)
	jr := queuedJob(t, cfg)

	require.NoError(t, h.HandleJob(jr))

	require.Len(t, publisher.updates, 2)
	assert.Equal(t, models.StateInProgress, publisher.updates[0].State)
	final := publisher.updates[1]
	assert.Equal(t, models.StateCompleted, final.State)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
	assert.Equal(t, "agent-test", final.AgentID)

	assert.Equal(t, []string{"module load python/3.7", "module load cuda/10.1"}, actions.ran)

	data, err := os.ReadFile(filepath.Join(cfg.WorkspaceDir, jr.ID, "run_updates.txt"))
	require.NoError(t, err)
	assert.Equal(t, "update one\n", string(data))
}

func TestHandleJobSetupFailure(t *testing.T) {
	h, publisher, actions, cfg := newTestHandler(t, 1)
	jr := queuedJob(t, cfg)

	err := h.HandleJob(jr)
	require.Error(t, err)

	require.Len(t, publisher.updates, 2)
	final := publisher.updates[1]
	assert.Equal(t, models.StateFailed, final.State)
	require.NotNil(t, final.FailedAction)
	assert.Equal(t, 1, *final.FailedAction)

	// Only the action before the failure ran; the payload never started.
	assert.Equal(t, []string{"module load python/3.7"}, actions.ran)
	_, statErr := os.Stat(filepath.Join(cfg.WorkspaceDir, jr.ID, "run_updates.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestHandleJobPayloadFailure(t *testing.T) {
	h, publisher, _, cfg := newTestHandler(t, -1)
	jr := queuedJob(t, cfg)

	scriptPath := filepath.Join(cfg.WorkspaceDir, jr.ID, "restart.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("exit 7\n"), 0755))

	err := h.HandleJob(jr)
	require.Error(t, err)

	final := publisher.updates[len(publisher.updates)-1]
	assert.Equal(t, models.StateFailed, final.State)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 7, *final.ExitCode)
	assert.Nil(t, final.FailedAction)
}

func TestHandleJobRunsPayloadAtMostOnce(t *testing.T) {
	h, _, _, cfg := newTestHandler(t, -1)
	jr := queuedJob(t, cfg)

	// The payload appends to a counter file; a second line would mean a
	// second execution.
	scriptPath := filepath.Join(cfg.WorkspaceDir, jr.ID, "restart.sh")
	counterPath := filepath.Join(cfg.WorkspaceDir, jr.ID, "runs.txt")
	script := fmt.Sprintf("echo ran >> %s\n", counterPath)
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0755))

	require.NoError(t, h.HandleJob(jr))

	data, err := os.ReadFile(counterPath)
	require.NoError(t, err)
	assert.Equal(t, "ran\n", string(data))
}
