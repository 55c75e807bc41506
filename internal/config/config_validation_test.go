package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_RejectsEmptyRootDir(t *testing.T) {
	cfg := validConfig()
	cfg.Store.RootDir = ""
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsNonPositiveStaleness(t *testing.T) {
	cfg := validConfig()
	cfg.Store.HandleCacheStaleness = 0
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsKafkaEnabledWithoutBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Kafka.Enabled = true
	cfg.Ingest.Kafka.Brokers = nil
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsFileTailEnabledWithoutPaths(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.FileTail.Enabled = true
	cfg.Ingest.FileTail.Paths = nil
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsAdminEnabledWithBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Admin.Enabled = true
	cfg.Admin.Port = 0
	assert.Error(t, Validate(cfg))
}
