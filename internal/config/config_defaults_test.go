package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	assert.Equal(t, "github.com/xtrace/reportstore", cfg.App.Name)
	assert.Equal(t, "/var/lib/xtrace/reports", cfg.Store.RootDir)
	assert.Equal(t, 500*time.Millisecond, cfg.Store.HandleCacheStaleness)
	assert.Equal(t, time.Second, cfg.Store.UpdaterInterval)
	assert.Equal(t, 16, cfg.Store.PendingShardCount)
	assert.Equal(t, 8420, cfg.Admin.Port)
	assert.Equal(t, 9420, cfg.Metrics.Port)
}

func TestApplyDefaults_DoesNotOverwriteExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Store.RootDir = "/custom/path"
	cfg.Admin.Port = 1234

	applyDefaults(cfg)

	assert.Equal(t, "/custom/path", cfg.Store.RootDir)
	assert.Equal(t, 1234, cfg.Admin.Port)
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	t.Setenv("XTRACE_ROOT_DIR", "/env/path")
	t.Setenv("XTRACE_ADMIN_PORT", "9999")
	t.Setenv("XTRACE_KAFKA_BROKERS", "broker1:9092,broker2:9092")

	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	assert.Equal(t, "/env/path", cfg.Store.RootDir)
	assert.Equal(t, 9999, cfg.Admin.Port)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Ingest.Kafka.Brokers)
	assert.True(t, cfg.Ingest.Kafka.Enabled)
}
