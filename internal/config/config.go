// Package config loads the report store's YAML configuration, applies
// defaults for anything left unset, and layers environment-variable
// overrides on top — the same load-then-default-then-override shape
// the teacher's config package uses.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const envPrefix = "XTRACE_"

// LoadConfig reads configFile if given, applies defaults for anything
// left zero-valued, layers environment overrides on top, and validates
// the result. A missing or unreadable config file is not fatal — the
// store can run entirely on defaults and env vars — but a validation
// failure is, per spec.md §7's treatment of startup errors.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadFile(configFile, cfg); err != nil {
			fmt.Printf("warning: failed to load config file %s: %v\n", configFile, err)
		} else {
			fmt.Printf("loaded configuration from %s\n", configFile)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "github.com/xtrace/reportstore"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "production"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "json"
	}

	if cfg.Store.RootDir == "" {
		cfg.Store.RootDir = "/var/lib/xtrace/reports"
	}
	if cfg.Store.HandleCacheStaleness == 0 {
		cfg.Store.HandleCacheStaleness = 500 * time.Millisecond
	}
	if cfg.Store.UpdaterInterval == 0 {
		cfg.Store.UpdaterInterval = time.Second
	}
	if cfg.Store.PendingShardCount == 0 {
		cfg.Store.PendingShardCount = 16
	}
	if cfg.Store.IngestQueueSize == 0 {
		cfg.Store.IngestQueueSize = 4096
	}

	if cfg.Ingest.Kafka.GroupID == "" {
		cfg.Ingest.Kafka.GroupID = "xtrace-reportstore"
	}
	if cfg.Ingest.Kafka.Topic == "" {
		cfg.Ingest.Kafka.Topic = "xtrace-reports"
	}

	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "0.0.0.0"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8420
	}

	if cfg.Metrics.Host == "" {
		cfg.Metrics.Host = "0.0.0.0"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9420
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Checkpoint.Interval == 0 {
		cfg.Checkpoint.Interval = 5 * time.Minute
	}
	if cfg.Checkpoint.SnapshotDir == "" {
		cfg.Checkpoint.SnapshotDir = cfg.Store.RootDir + "/checkpoints"
	}
	if cfg.Checkpoint.ArchiveIdleAfter == 0 {
		cfg.Checkpoint.ArchiveIdleAfter = 24 * time.Hour
	}

	if cfg.Resource.SampleInterval == 0 {
		cfg.Resource.SampleInterval = 30 * time.Second
	}
	if cfg.Resource.MinFreeDiskBytes == 0 {
		cfg.Resource.MinFreeDiskBytes = 512 * 1024 * 1024
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "xtrace-reportstore"
	}
	if cfg.Tracing.Exporter == "" {
		cfg.Tracing.Exporter = "otlp"
	}
	if cfg.Tracing.SampleFraction == 0 {
		cfg.Tracing.SampleFraction = 0.05
	}
}

// applyEnvironmentOverrides lets deploy tooling override the handful
// of settings that commonly vary per environment without editing the
// YAML file, matching the teacher's SSW_* env-var convention under a
// new prefix.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "ROOT_DIR"); v != "" {
		cfg.Store.RootDir = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "ADMIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = n
		}
	}
	if v := os.Getenv(envPrefix + "METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
		}
	}
	if v := os.Getenv(envPrefix + "KAFKA_BROKERS"); v != "" {
		cfg.Ingest.Kafka.Brokers = strings.Split(v, ",")
		cfg.Ingest.Kafka.Enabled = true
	}
	if v := os.Getenv(envPrefix + "FILETAIL_PATHS"); v != "" {
		cfg.Ingest.FileTail.Paths = strings.Split(v, ",")
		cfg.Ingest.FileTail.Enabled = true
	}
	if v := os.Getenv(envPrefix + "TRACING_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
		cfg.Tracing.Enabled = true
	}
}
