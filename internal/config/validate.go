package config

import "fmt"

// Validate rejects configurations that would fail at startup in ways
// better caught before the store tries to open files or bind ports
// (spec.md §7 treats these as fatal startup errors, not recoverable
// runtime ones).
func Validate(cfg *Config) error {
	if cfg.Store.RootDir == "" {
		return fmt.Errorf("store.root_dir must not be empty")
	}
	if cfg.Store.HandleCacheStaleness <= 0 {
		return fmt.Errorf("store.handle_cache_staleness must be positive")
	}
	if cfg.Store.UpdaterInterval <= 0 {
		return fmt.Errorf("store.updater_interval must be positive")
	}
	if cfg.Store.PendingShardCount <= 0 {
		return fmt.Errorf("store.pending_shard_count must be positive")
	}
	if cfg.Ingest.Kafka.Enabled && len(cfg.Ingest.Kafka.Brokers) == 0 {
		return fmt.Errorf("ingest.kafka.brokers must be set when kafka ingest is enabled")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Paths) == 0 {
		return fmt.Errorf("ingest.file_tail.paths must be set when file-tail ingest is enabled")
	}
	if cfg.Admin.Enabled && cfg.Admin.Port <= 0 {
		return fmt.Errorf("admin.port must be positive when the admin server is enabled")
	}
	if cfg.Resource.MinFreeDiskBytes < 0 {
		return fmt.Errorf("resource.min_free_disk_bytes must not be negative")
	}
	return nil
}
