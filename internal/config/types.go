package config

import "time"

// Config is the root configuration for the report store daemon. It is
// loaded from YAML and then layered with environment overrides and
// defaults, mirroring the teacher's load-then-default-then-override
// shape (see LoadConfig).
type Config struct {
	App        AppConfig        `yaml:"app"`
	Store      StoreConfig      `yaml:"store"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Admin      AdminConfig      `yaml:"admin"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Resource   ResourceConfig   `yaml:"resource"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// StoreConfig configures C2/C3/C4/C6: where reports live on disk, how
// long a handle cache entry may sit idle before it's eligible for
// eviction, and how often the updater drains the pending map.
type StoreConfig struct {
	RootDir              string        `yaml:"root_dir"`
	HandleCacheStaleness time.Duration `yaml:"handle_cache_staleness"`
	UpdaterInterval      time.Duration `yaml:"updater_interval"`
	PendingShardCount    int           `yaml:"pending_shard_count"`
	IngestQueueSize      int           `yaml:"ingest_queue_size"`
}

type IngestConfig struct {
	Kafka    KafkaIngestConfig    `yaml:"kafka"`
	FileTail FileTailIngestConfig `yaml:"file_tail"`
}

type KafkaIngestConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type FileTailIngestConfig struct {
	Enabled bool     `yaml:"enabled"`
	Paths   []string `yaml:"paths"`
	Poll    bool     `yaml:"poll"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// CheckpointConfig configures the periodic index-snapshot and
// task-file archival loop.
type CheckpointConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	SnapshotDir      string        `yaml:"snapshot_dir"`
	ArchiveIdleAfter time.Duration `yaml:"archive_idle_after"`
}

type ResourceConfig struct {
	Enabled            bool          `yaml:"enabled"`
	SampleInterval     time.Duration `yaml:"sample_interval"`
	MinFreeDiskBytes   int64         `yaml:"min_free_disk_bytes"`
	MaxProcessRSSBytes int64         `yaml:"max_process_rss_bytes"`
}

type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // "otlp" or "jaeger"
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	JaegerEndpoint string  `yaml:"jaeger_endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SampleFraction float64 `yaml:"sample_fraction"`
}
