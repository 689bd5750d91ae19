package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/agent"
	"github.com/sciml-hpc/gpulaunch/internal/config"
	"github.com/sciml-hpc/gpulaunch/internal/logging"
	"github.com/sciml-hpc/gpulaunch/internal/natsclient"
	"github.com/sciml-hpc/gpulaunch/internal/runner"
)

var (
	Version   = "dev"     // Injected at build time
	BuildDate = "unknown" // Injected at build time
)

var configPath = flag.String("config", filepath.Join("configs", "agent.yaml"), "Path to the configuration file")

func main() {
	flag.Parse()

	tempLogger := logging.Console("info")
	cfg, err := config.LoadConfig(*configPath, tempLogger)
	if err != nil {
		tempLogger.Fatal("Failed to load configuration", zap.Error(err), zap.String("path", *configPath))
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogDir, "agent.log")
	if err != nil {
		tempLogger.Fatal("Failed to set up logger", zap.Error(err))
	}
	defer logger.Sync()
	cfg.Logger = logger

	logger.Info("Starting gpulaunch node agent",
		zap.String("version", Version),
		zap.String("buildDate", BuildDate),
		zap.String("instanceID", cfg.InstanceID),
		zap.String("workspace", cfg.WorkspaceDir),
	)

	if overview, err := agent.CollectNodeOverview(); err == nil {
		logger.Info("Node overview",
			zap.String("hostname", overview.Hostname),
			zap.Float64("cpu_usage_percent", overview.CPUUsagePercent),
			zap.Float64("ram_usage_percent", overview.RAMUsagePercent),
			zap.Uint64("free_disk_gb", overview.FreeDiskGB),
		)
	}

	jobRunner := runner.New(runner.ShellActionRunner{}, logger)

	// The handler needs the NATS client for status reporting and the NATS
	// client needs the handler for dispatch; wire the reporter afterwards.
	handler := agent.NewHandler(cfg, logger, nil, jobRunner)

	natsClient, err := natsclient.NewClient(cfg.Nats, cfg.InstanceID, logger, handler.HandleJob)
	if err != nil {
		logger.Fatal("Failed to initialize NATS client", zap.Error(err))
	}
	handler.SetReporter(natsClient)

	if err := natsClient.StartListening(); err != nil {
		logger.Fatal("Failed to start NATS listener", zap.Error(err))
	}
	defer natsClient.Stop()

	logger.Info("Node agent is running. Waiting for jobs...")

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	<-stopChan

	logger.Info("Shutting down node agent")
}
