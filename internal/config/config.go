package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// NatsConfig holds NATS specific configuration for the queue scheduler
// backend and the node agents.
type NatsConfig struct {
	URL                 string        `yaml:"url"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ReconnectWait       time.Duration `yaml:"reconnect_wait"`
	MaxReconnects       int           `yaml:"max_reconnects"`
	JobSubmitSubject    string        `yaml:"job_submit_subject"`
	StatusUpdateSubject string        `yaml:"status_update_subject"`
	QueueGroup          string        `yaml:"queue_group"`
	AckWait             time.Duration `yaml:"ack_wait"`
}

// SlurmConfig holds settings for the sbatch-based scheduler backend.
type SlurmConfig struct {
	SbatchPath string        `yaml:"sbatch_path"`
	SubmitDir  string        `yaml:"submit_dir"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the submission record store.
type StoreConfig struct {
	Type        string `yaml:"type"` // "memory" or "postgres"
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// BudgetConfig holds the optional submit-time GPU-hour budget check.
type BudgetConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxGPUHours string `yaml:"max_gpu_hours,omitempty"` // decimal string, e.g. "128.5"
}

// ServerConfig holds the HTTP submission surface settings.
type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// Config is the application configuration shared by the gpulaunch CLI and
// the node agent.
type Config struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogDir     string `yaml:"log_dir"`

	// Scheduler selects the submission backend: "slurm" or "queue".
	Scheduler string `yaml:"scheduler"`

	Slurm  SlurmConfig  `yaml:"slurm"`
	Nats   NatsConfig   `yaml:"nats"`
	Store  StoreConfig  `yaml:"store"`
	Budget BudgetConfig `yaml:"budget"`
	Server ServerConfig `yaml:"server"`

	// WorkspaceDir is where node agents stage per-job working directories.
	WorkspaceDir string `yaml:"workspace_dir"`

	Logger *zap.Logger `yaml:"-"`
}

// LoadConfig reads configuration from the given YAML file path. It creates
// a default config file if one does not exist yet.
func LoadConfig(path string, logger *zap.Logger) (*Config, error) {
	hostname, _ := os.Hostname()
	defaultInstanceID := "gpulaunch-" + hostname
	if defaultInstanceID == "gpulaunch-" {
		defaultInstanceID = "gpulaunch-unknown"
	}

	defaultConfig := &Config{
		InstanceID: defaultInstanceID,
		LogLevel:   "info",
		LogDir:     filepath.Join(".", "logs"),
		Scheduler:  "slurm",
		Slurm: SlurmConfig{
			SbatchPath: "sbatch",
			SubmitDir:  filepath.Join(os.TempDir(), "gpulaunch_submit"),
			Timeout:    30 * time.Second,
		},
		Nats: NatsConfig{
			URL:                 "nats://localhost:4222",
			ConnectTimeout:      5 * time.Second,
			ReconnectWait:       3 * time.Second,
			MaxReconnects:       -1,
			JobSubmitSubject:    "gpulaunch.jobs.submit",
			StatusUpdateSubject: "gpulaunch.jobs.status",
			QueueGroup:          "gpulaunch_agents",
			AckWait:             60 * time.Second,
		},
		Store: StoreConfig{
			Type: "memory",
		},
		Budget: BudgetConfig{
			Enabled: false,
		},
		Server: ServerConfig{
			ListenAddress: ":8080",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  15 * time.Second,
		},
		WorkspaceDir: filepath.Join(os.TempDir(), "gpulaunch_jobs"),
	}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		data, marshalErr := yaml.Marshal(defaultConfig)
		if marshalErr != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", marshalErr)
		}
		if mkdirErr := os.MkdirAll(filepath.Dir(path), 0755); mkdirErr != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", mkdirErr)
		}
		if writeErr := os.WriteFile(path, data, 0644); writeErr != nil {
			return nil, fmt.Errorf("failed to write default config file: %w", writeErr)
		}
		logger.Info("Default configuration file created", zap.String("path", path))
		defaultConfig.Logger = logger
		return defaultConfig, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to check config file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	applyDefaultsIfNotSet(&cfg, defaultConfig)
	cfg.Logger = logger
	return &cfg, nil
}

// applyDefaultsIfNotSet applies default values to cfg fields that are
// zero-valued after unmarshalling.
func applyDefaultsIfNotSet(cfg *Config, defaults *Config) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaults.InstanceID
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaults.LogDir
	}
	if cfg.Scheduler == "" {
		cfg.Scheduler = defaults.Scheduler
	}
	if cfg.Slurm.SbatchPath == "" {
		cfg.Slurm.SbatchPath = defaults.Slurm.SbatchPath
	}
	if cfg.Slurm.SubmitDir == "" {
		cfg.Slurm.SubmitDir = defaults.Slurm.SubmitDir
	}
	if cfg.Slurm.Timeout == 0 {
		cfg.Slurm.Timeout = defaults.Slurm.Timeout
	}
	if cfg.Nats.URL == "" {
		cfg.Nats.URL = defaults.Nats.URL
	}
	if cfg.Nats.ConnectTimeout == 0 {
		cfg.Nats.ConnectTimeout = defaults.Nats.ConnectTimeout
	}
	if cfg.Nats.ReconnectWait == 0 {
		cfg.Nats.ReconnectWait = defaults.Nats.ReconnectWait
	}
	// MaxReconnects: -1 means infinite, 0 is not a useful user setting.
	if cfg.Nats.MaxReconnects == 0 && defaults.Nats.MaxReconnects != 0 {
		cfg.Nats.MaxReconnects = defaults.Nats.MaxReconnects
	}
	if cfg.Nats.JobSubmitSubject == "" {
		cfg.Nats.JobSubmitSubject = defaults.Nats.JobSubmitSubject
	}
	if cfg.Nats.StatusUpdateSubject == "" {
		cfg.Nats.StatusUpdateSubject = defaults.Nats.StatusUpdateSubject
	}
	if cfg.Nats.QueueGroup == "" {
		cfg.Nats.QueueGroup = defaults.Nats.QueueGroup
	}
	if cfg.Nats.AckWait == 0 {
		cfg.Nats.AckWait = defaults.Nats.AckWait
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = defaults.Store.Type
	}
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = defaults.Server.ListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = defaults.WorkspaceDir
	}
}

// SaveConfig writes the current configuration back to the given path,
// overwriting the existing file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("Configuration saved", zap.String("path", path))
	}
	return nil
}
