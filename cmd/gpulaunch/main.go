package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sciml-hpc/gpulaunch/internal/accounting"
	"github.com/sciml-hpc/gpulaunch/internal/config"
	"github.com/sciml-hpc/gpulaunch/internal/logging"
	"github.com/sciml-hpc/gpulaunch/internal/models"
	"github.com/sciml-hpc/gpulaunch/internal/natsclient"
	"github.com/sciml-hpc/gpulaunch/internal/scheduler"
	"github.com/sciml-hpc/gpulaunch/internal/server"
	"github.com/sciml-hpc/gpulaunch/internal/store"
)

var (
	Version   = "dev"     // Injected at build time
	BuildDate = "unknown" // Injected at build time
)

var (
	configPath = flag.String("config", filepath.Join("configs", "config.yaml"), "Path to the configuration file")
	submitPath = flag.String("submit", "", "Submit the job described by the given YAML file, print the job ID, then exit")
	renderPath = flag.String("render", "", "Render the batch script for the given YAML job file to stdout without submitting, then exit")
	statusID   = flag.String("status", "", "Print the stored submission record for the given job ID, then exit")
	serve      = flag.Bool("serve", false, "Run the HTTP submission surface")
)

func main() {
	flag.Parse()

	tempLogger := logging.Console("info")
	cfg, err := config.LoadConfig(*configPath, tempLogger)
	if err != nil {
		tempLogger.Fatal("Failed to load configuration", zap.Error(err), zap.String("path", *configPath))
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogDir, "gpulaunch.log")
	if err != nil {
		tempLogger.Fatal("Failed to set up logger", zap.Error(err))
	}
	defer logger.Sync()
	cfg.Logger = logger

	logger.Debug("gpulaunch starting",
		zap.String("version", Version),
		zap.String("buildDate", BuildDate),
		zap.String("scheduler", cfg.Scheduler),
	)

	switch {
	case *renderPath != "":
		handleRender(*renderPath, logger)
	case *submitPath != "":
		handleSubmit(cfg, *submitPath, logger)
	case *statusID != "":
		handleStatus(cfg, *statusID, logger)
	case *serve:
		runServer(cfg, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// loadJobFile reads and validates a YAML job description.
func loadJobFile(path string) (*models.JobRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	var jr models.JobRequest
	if err := yaml.Unmarshal(data, &jr); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if err := jr.Validate(); err != nil {
		return nil, err
	}
	return &jr, nil
}

func handleRender(path string, logger *zap.Logger) {
	jr, err := loadJobFile(path)
	if err != nil {
		logger.Fatal("Cannot render job", zap.String("file", path), zap.Error(err))
	}
	fmt.Print(scheduler.RenderBatchScript(jr))
}

func handleSubmit(cfg *config.Config, path string, logger *zap.Logger) {
	jr, err := loadJobFile(path)
	if err != nil {
		logger.Fatal("Cannot submit job", zap.String("file", path), zap.Error(err))
	}

	limit, err := budgetLimit(cfg)
	if err != nil {
		logger.Fatal("Invalid budget configuration", zap.Error(err))
	}
	budget, err := accounting.NewBudget(limit)
	if err != nil {
		logger.Fatal("Invalid budget configuration", zap.Error(err))
	}
	if err := budget.Check(jr.Resources); err != nil {
		logger.Fatal("Submission rejected before reaching the scheduler", zap.Error(err))
	}

	sched, cleanup, err := buildScheduler(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build scheduler backend", zap.Error(err))
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, err := sched.Submit(ctx, jr)
	if err != nil {
		logger.Fatal("Submission failed", zap.String("job_name", jr.Name), zap.Error(err))
	}

	st, storeCleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Warn("Submission accepted but store unavailable", zap.Error(err))
	} else {
		defer storeCleanup()
		rec := &store.SubmissionRecord{
			JobID:       result.JobID,
			JobName:     jr.Name,
			Backend:     result.Backend,
			Request:     *jr,
			State:       models.StateSubmitted,
			SubmittedAt: result.SubmittedAt,
		}
		if err := st.SaveSubmission(ctx, rec); err != nil {
			logger.Warn("Failed to record submission", zap.String("job_id", result.JobID), zap.Error(err))
		}
	}

	// The job ID is the command's output; logs stay on stderr.
	fmt.Println(result.JobID)
}

func handleStatus(cfg *config.Config, jobID string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open submission store", zap.Error(err))
	}
	defer cleanup()

	rec, err := st.GetSubmission(ctx, jobID)
	if err != nil {
		logger.Fatal("Failed to look up job", zap.String("job_id", jobID), zap.Error(err))
	}
	fmt.Printf("%s\t%s\t%s\t%s\n", rec.JobID, rec.JobName, rec.State, rec.SubmittedAt.Format(time.RFC3339))
}

func runServer(cfg *config.Config, logger *zap.Logger) {
	ctx := context.Background()

	sched, schedCleanup, err := buildScheduler(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build scheduler backend", zap.Error(err))
	}
	defer schedCleanup()

	st, storeCleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open submission store", zap.Error(err))
	}
	defer storeCleanup()

	limit, err := budgetLimit(cfg)
	if err != nil {
		logger.Fatal("Invalid budget configuration", zap.Error(err))
	}
	budget, err := accounting.NewBudget(limit)
	if err != nil {
		logger.Fatal("Invalid budget configuration", zap.Error(err))
	}

	handler := server.NewJobHandler(logger, sched, st, budget)
	srv := server.New(cfg.Server, server.NewRouter(handler), logger)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan

	logger.Info("Shutting down HTTP submission surface")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}

func budgetLimit(cfg *config.Config) (string, error) {
	if !cfg.Budget.Enabled {
		return "", nil
	}
	if cfg.Budget.MaxGPUHours == "" {
		return "", fmt.Errorf("budget is enabled but max_gpu_hours is not set")
	}
	return cfg.Budget.MaxGPUHours, nil
}

// buildScheduler constructs the configured submission backend. The cleanup
// function releases backend resources (e.g. the NATS connection).
func buildScheduler(cfg *config.Config, logger *zap.Logger) (scheduler.Scheduler, func(), error) {
	switch cfg.Scheduler {
	case "slurm":
		return scheduler.NewSlurmScheduler(cfg.Slurm, logger), func() {}, nil
	case "queue":
		nc, err := natsclient.NewClient(cfg.Nats, cfg.InstanceID, logger, nil)
		if err != nil {
			return nil, nil, err
		}
		q := scheduler.NewQueueScheduler(nc.Conn(), cfg.Nats.JobSubmitSubject, logger)
		return q, nc.Stop, nil
	default:
		return nil, nil, fmt.Errorf("unknown scheduler backend %q", cfg.Scheduler)
	}
}

// buildStore constructs the configured submission store.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.SubmissionStore, func(), error) {
	switch cfg.Store.Type {
	case "memory":
		st := store.NewInMemorySubmissionStore()
		return st, func() {}, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		st := store.NewPostgresSubmissionStore(pool, logger)
		if err := st.Initialize(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
	}
}
