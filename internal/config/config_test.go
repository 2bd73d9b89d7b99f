package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, time.Minute, cfg.RetentionInterval)
	assert.Equal(t, time.Hour, cfg.MessageRetention)
	assert.Equal(t, 30*time.Second, cfg.AgentScanInterval)
	assert.Equal(t, 10, cfg.AccelerationThreshold)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SENTINEL_HTTP_ADDR", ":9090")
	t.Setenv("SENTINEL_STORAGE_BACKEND", "sqlite")
	t.Setenv("SENTINEL_SQLITE_PATH", "/tmp/test.db")
	t.Setenv("SENTINEL_MESSAGE_RETENTION", "15m")
	t.Setenv("SENTINEL_AGENT_ACCELERATION_THRESHOLD", "25")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, "/tmp/test.db", cfg.SQLitePath)
	assert.Equal(t, 15*time.Minute, cfg.MessageRetention)
	assert.Equal(t, 25, cfg.AccelerationThreshold)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SENTINEL_MESSAGE_RETENTION", "soon")
	t.Setenv("SENTINEL_AGENT_ACCELERATION_THRESHOLD", "many")

	cfg := Load()
	assert.Equal(t, time.Hour, cfg.MessageRetention)
	assert.Equal(t, 10, cfg.AccelerationThreshold)
}
