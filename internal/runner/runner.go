// Package runner implements the node side of a job: the ordered setup
// actions followed by exactly one payload execution with its stdout bound
// to the job's output file.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// ActionRunner applies a single setup action on the node. The production
// implementation shells out; tests substitute a recording double.
type ActionRunner interface {
	RunAction(ctx context.Context, workdir, command string) error
}

// ShellActionRunner runs setup actions through a login shell so that the
// site's module system initialization from the shell profile is in effect.
type ShellActionRunner struct{}

// RunAction executes one action via `sh -lc`.
func (ShellActionRunner) RunAction(ctx context.Context, workdir, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-lc", command)
	cmd.Dir = workdir
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("action %q failed: %w", command, err)
	}
	return nil
}

// Result is the outcome of one job run on the node.
type Result struct {
	ExitCode int
	// FailedAction is the index of the setup action that failed, nil when
	// setup completed. When non-nil the payload never started.
	FailedAction *int
	Err          error
}

// Runner executes a job request on the allocated node.
type Runner struct {
	actions ActionRunner
	logger  *zap.Logger
}

// New creates a Runner using the given ActionRunner for setup actions.
func New(actions ActionRunner, logger *zap.Logger) *Runner {
	return &Runner{actions: actions, logger: logger}
}

// Run applies the setup actions in declaration order and, only if every one
// of them succeeds, executes the payload once. A failure at action k aborts
// the run: actions k+1..n and the payload never execute, and there are no
// retries.
func (r *Runner) Run(ctx context.Context, jr *models.JobRequest, workdir string) Result {
	for i, action := range jr.SetupActions {
		r.logger.Info("Applying setup action",
			zap.String("job_id", jr.ID),
			zap.Int("index", i),
			zap.String("command", action.Command),
		)
		if err := r.actions.RunAction(ctx, workdir, action.Command); err != nil {
			idx := i
			r.logger.Error("Setup action failed, aborting job",
				zap.String("job_id", jr.ID),
				zap.Int("index", i),
				zap.Error(err),
			)
			return Result{
				ExitCode:     -1,
				FailedAction: &idx,
				Err:          fmt.Errorf("setup action %d failed: %w", i, err),
			}
		}
	}

	return r.runPayload(ctx, jr, workdir)
}

// runPayload executes the payload with its stdout redirected to the output
// path. Shell `>` semantics: create or truncate, then bind the descriptor.
// Stderr stays on the process's own stderr, which the scheduler captures in
// the job log.
func (r *Runner) runPayload(ctx context.Context, jr *models.JobRequest, workdir string) Result {
	outputPath := jr.OutputPath
	if !filepath.IsAbs(outputPath) {
		outputPath = filepath.Join(workdir, outputPath)
	}

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return Result{
			ExitCode: -1,
			Err:      fmt.Errorf("failed to open output file %s: %w", outputPath, err),
		}
	}
	defer outFile.Close()

	cmd := exec.CommandContext(ctx, jr.Payload.Interpreter, jr.Payload.Script)
	cmd.Dir = workdir
	cmd.Stdout = outFile
	cmd.Stderr = os.Stderr

	startTime := time.Now()
	r.logger.Info("Executing payload",
		zap.String("job_id", jr.ID),
		zap.String("interpreter", jr.Payload.Interpreter),
		zap.String("script", jr.Payload.Script),
		zap.String("output", outputPath),
	)

	runErr := cmd.Run()
	r.logger.Info("Payload finished",
		zap.String("job_id", jr.ID),
		zap.Duration("duration", time.Since(startTime)),
		zap.Error(runErr),
	)

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			// The exit code is reported, not interpreted; the scheduler
			// owns the job's final status.
			return Result{
				ExitCode: exitErr.ExitCode(),
				Err:      fmt.Errorf("payload exited with code %d: %w", exitErr.ExitCode(), exitErr),
			}
		}
		if ctx.Err() == context.DeadlineExceeded {
			return Result{
				ExitCode: -2,
				Err:      fmt.Errorf("payload killed at wall-clock limit: %w", ctx.Err()),
			}
		}
		return Result{
			ExitCode: -1,
			Err:      fmt.Errorf("payload execution failed: %w", runErr),
		}
	}

	return Result{ExitCode: 0}
}
