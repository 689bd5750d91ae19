// Package agent implements the node agent used with the queue scheduler
// backend: it receives dispatched job requests, runs them through the
// runner and reports status updates.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/config"
	"github.com/sciml-hpc/gpulaunch/internal/models"
	"github.com/sciml-hpc/gpulaunch/internal/runner"
)

// StatusPublisher reports job progress back over the status subject. The
// NATS client implements it; tests use a recording double.
type StatusPublisher interface {
	PublishStatus(update *models.JobStatusUpdate) error
}

// Handler orchestrates one job execution and its status reporting.
type Handler struct {
	logger   *zap.Logger
	cfg      *config.Config
	reporter StatusPublisher
	runner   *runner.Runner
}

// NewHandler creates a new job handler.
func NewHandler(cfg *config.Config, logger *zap.Logger, reporter StatusPublisher, r *runner.Runner) *Handler {
	return &Handler{
		logger:   logger,
		cfg:      cfg,
		reporter: reporter,
		runner:   r,
	}
}

// SetReporter sets the status publisher after construction. Useful to break
// the initialization cycle between the handler and the NATS client.
func (h *Handler) SetReporter(reporter StatusPublisher) {
	h.reporter = reporter
}

// HandleJob is the entry point for a dispatched job request. It stages a
// per-job workspace, reports in_progress, runs setup and payload, and
// reports the terminal state. The wall-clock limit is enforced here because
// in queue mode the agent stands in for the external scheduler.
func (h *Handler) HandleJob(jr *models.JobRequest) error {
	h.logger.Info("Handling job",
		zap.String("job_id", jr.ID),
		zap.String("job_name", jr.Name),
	)

	// The workspace is kept after the run: a relative output path resolves
	// inside it, and the output log is the job's persisted artifact.
	workspacePath := filepath.Join(h.cfg.WorkspaceDir, jr.ID)
	if err := os.MkdirAll(workspacePath, 0755); err != nil {
		h.logger.Error("Failed to create job workspace",
			zap.String("job_id", jr.ID),
			zap.String("workspace", workspacePath),
			zap.Error(err),
		)
		update := models.NewJobStatusUpdate(jr.ID, h.cfg.InstanceID, models.StateFailed,
			fmt.Sprintf("Failed to create workspace: %v", err))
		_ = h.reporter.PublishStatus(update)
		return fmt.Errorf("failed to create workspace for job %s: %w", jr.ID, err)
	}

	inProgress := models.NewJobStatusUpdate(jr.ID, h.cfg.InstanceID, models.StateInProgress,
		"Setup actions started.")
	if err := h.reporter.PublishStatus(inProgress); err != nil {
		h.logger.Warn("Failed to publish in_progress status",
			zap.String("job_id", jr.ID), zap.Error(err))
		// Execution continues; status reporting is best-effort here.
	}

	ctx := context.Background()
	if jr.Resources.WallClock.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, jr.Resources.WallClock.Duration)
		defer cancel()
	}

	result := h.runner.Run(ctx, jr, workspacePath)

	var final *models.JobStatusUpdate
	if result.Err == nil && result.ExitCode == 0 {
		final = models.NewJobStatusUpdate(jr.ID, h.cfg.InstanceID, models.StateCompleted,
			"Job completed successfully.")
		h.logger.Info("Job completed", zap.String("job_id", jr.ID))
	} else {
		msg := fmt.Sprintf("Job failed. Exit code: %d.", result.ExitCode)
		if result.Err != nil {
			msg = fmt.Sprintf("Job failed: %v. Exit code: %d.", result.Err, result.ExitCode)
		}
		final = models.NewJobStatusUpdate(jr.ID, h.cfg.InstanceID, models.StateFailed, msg)
		final.FailedAction = result.FailedAction
		h.logger.Error("Job failed",
			zap.String("job_id", jr.ID),
			zap.Int("exit_code", result.ExitCode),
			zap.Error(result.Err),
		)
	}
	final.ExitCode = &result.ExitCode
	if overview, err := CollectNodeOverview(); err == nil {
		final.Node = overview
	}

	if err := h.reporter.PublishStatus(final); err != nil {
		h.logger.Error("Failed to publish final status",
			zap.String("job_id", jr.ID), zap.Error(err))
		return fmt.Errorf("job finished but failed to report final status for %s: %w", jr.ID, err)
	}

	if result.Err != nil {
		return fmt.Errorf("job execution failed for %s: %w", jr.ID, result.Err)
	}
	return nil
}
