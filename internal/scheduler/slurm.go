package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/config"
	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// submittedBatchJobRe matches sbatch's acceptance line on stdout, e.g.
// "Submitted batch job 123456".
var submittedBatchJobRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// SlurmScheduler submits jobs by rendering a batch script and invoking the
// site's sbatch binary. Slurm owns everything after acceptance: queueing,
// allocation, walltime enforcement and exit-code propagation.
type SlurmScheduler struct {
	cfg    config.SlurmConfig
	logger *zap.Logger

	// runCommand is swapped out in tests so no real sbatch is needed.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// NewSlurmScheduler creates a scheduler backed by the sbatch binary from
// the configuration.
func NewSlurmScheduler(cfg config.SlurmConfig, logger *zap.Logger) *SlurmScheduler {
	s := &SlurmScheduler{
		cfg:    cfg,
		logger: logger,
	}
	s.runCommand = s.execSbatch
	return s
}

func (s *SlurmScheduler) execSbatch(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Submit renders the batch script, stages it under the submit directory and
// hands it to sbatch. The returned result carries Slurm's job identifier.
func (s *SlurmScheduler) Submit(ctx context.Context, jr *models.JobRequest) (*SubmissionResult, error) {
	script := RenderBatchScript(jr)

	if err := os.MkdirAll(s.cfg.SubmitDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create submit directory: %w", err)
	}

	// Each submission gets its own script file; resubmitting the same
	// request must stay two fully independent jobs.
	scriptName := fmt.Sprintf("%s-%s.sbatch", jr.Name, uuid.New().String())
	scriptPath := filepath.Join(s.cfg.SubmitDir, scriptName)
	if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
		return nil, fmt.Errorf("failed to write batch script: %w", err)
	}
	s.logger.Debug("Batch script staged",
		zap.String("job_name", jr.Name),
		zap.String("script", scriptPath),
	)

	submitCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	stdout, stderr, err := s.runCommand(submitCtx, s.cfg.SbatchPath, scriptPath)
	if err != nil {
		s.logger.Error("sbatch rejected the submission",
			zap.String("job_name", jr.Name),
			zap.ByteString("stderr", stderr),
			zap.Error(err),
		)
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s", models.ErrSubmissionRejected, msg)
	}

	match := submittedBatchJobRe.FindSubmatch(stdout)
	if match == nil {
		return nil, fmt.Errorf("%w: unrecognized sbatch output %q",
			models.ErrSubmissionRejected, strings.TrimSpace(string(stdout)))
	}
	jobID := string(match[1])

	s.logger.Info("Job accepted by Slurm",
		zap.String("job_name", jr.Name),
		zap.String("job_id", jobID),
		zap.String("partition", jr.Resources.Partition),
		zap.Int("gpus", jr.Resources.GPUCount),
	)

	return &SubmissionResult{
		JobID:       jobID,
		Backend:     "slurm",
		SubmittedAt: time.Now().UTC(),
	}, nil
}
