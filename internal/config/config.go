// Package config loads platform configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// StorageBackend selects the persistence layer.
type StorageBackend string

const (
	BackendMemory StorageBackend = "memory"
	BackendRedis  StorageBackend = "redis"
	BackendSQLite StorageBackend = "sqlite"
)

// Config is the full platform configuration.
type Config struct {
	HTTPAddr string
	LogLevel string

	StorageBackend StorageBackend
	RedisAddr      string
	RedisDB        int
	SQLitePath     string

	RetentionInterval time.Duration
	MessageRetention  time.Duration

	AgentScanInterval     time.Duration
	AccelerationThreshold int
}

// Load reads configuration from the environment with defaults suitable for
// local development.
func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("SENTINEL_HTTP_ADDR", ":8080"),
		LogLevel: getEnv("SENTINEL_LOG_LEVEL", "info"),

		StorageBackend: StorageBackend(getEnv("SENTINEL_STORAGE_BACKEND", string(BackendMemory))),
		RedisAddr:      getEnv("SENTINEL_REDIS_ADDR", "localhost:6379"),
		RedisDB:        getEnvInt("SENTINEL_REDIS_DB", 0),
		SQLitePath:     getEnv("SENTINEL_SQLITE_PATH", "sentinel.db"),

		RetentionInterval: getEnvDuration("SENTINEL_RETENTION_INTERVAL", time.Minute),
		MessageRetention:  getEnvDuration("SENTINEL_MESSAGE_RETENTION", time.Hour),

		AgentScanInterval:     getEnvDuration("SENTINEL_AGENT_SCAN_INTERVAL", 30*time.Second),
		AccelerationThreshold: getEnvInt("SENTINEL_AGENT_ACCELERATION_THRESHOLD", 10),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
