// Package config provides configuration management for Flowfile.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Logging       LoggingConfig
	Worker        WorkerConfig
	ArtifactCache ArtifactCacheConfig
	Execution     ExecutionConfig
	EventBus      EventBusConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORS               bool
	CORSAllowedOrigins []string
}

// DatabaseConfig holds the optional run-history store's connection
// settings. An empty URL disables the database observer entirely: the
// core's correctness never depends on it (see SPEC_FULL.md §D.4).
type DatabaseConfig struct {
	URL             string
	MaxConnections  int
	MinConnections  int
	MaxIdleTime     time.Duration
	MaxConnLifetime time.Duration
}

// Enabled reports whether a run-history store was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// RedisConfig backs the artifact cache's LRU/pinned-set bookkeeping.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

// WorkerConfig controls how the scheduler spawns its out-of-process
// execution backend (cmd/worker).
type WorkerConfig struct {
	Command string
	Args    []string
}

// ArtifactCacheConfig controls the content-addressed artifact store.
type ArtifactCacheConfig struct {
	Dir              string
	MaxBytes         int64
	EvictionInterval time.Duration
}

// ExecutionConfig mirrors scheduler.Options, the environment variables
// spec.md §6 names for run behavior.
type ExecutionConfig struct {
	MaxParallel   int
	TaskTimeout   time.Duration
	CancelGrace   time.Duration
	DevSampleRows int64
	PreviewRows   int
}

// EventBusConfig controls the run registry / event bus (C6).
type EventBusConfig struct {
	SubscriberBuffer int
	RunRetention     time.Duration
}

// Load loads the configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnvAsInt("FLOWFILE_PORT", 8585),
			Host:               getEnv("FLOWFILE_HOST", "0.0.0.0"),
			ReadTimeout:        getEnvAsDuration("FLOWFILE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       getEnvAsDuration("FLOWFILE_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout:    getEnvAsDuration("FLOWFILE_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORS:               getEnvAsBool("FLOWFILE_CORS_ENABLED", true),
			CORSAllowedOrigins: getEnvAsSlice("FLOWFILE_CORS_ALLOWED_ORIGINS", []string{}),
		},
		Database: DatabaseConfig{
			URL:             getEnv("FLOWFILE_DATABASE_URL", ""),
			MaxConnections:  getEnvAsInt("FLOWFILE_DB_MAX_CONNECTIONS", 10),
			MinConnections:  getEnvAsInt("FLOWFILE_DB_MIN_CONNECTIONS", 2),
			MaxIdleTime:     getEnvAsDuration("FLOWFILE_DB_MAX_IDLE_TIME", 30*time.Minute),
			MaxConnLifetime: getEnvAsDuration("FLOWFILE_DB_MAX_CONN_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			URL:      getEnv("FLOWFILE_REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("FLOWFILE_REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("FLOWFILE_REDIS_DB", 0),
			PoolSize: getEnvAsInt("FLOWFILE_REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("FLOWFILE_LOG_LEVEL", "info"),
			Format: getEnv("FLOWFILE_LOG_FORMAT", "json"),
		},
		Worker: WorkerConfig{
			Command: getEnv("FLOWFILE_WORKER_CMD", "flowfile-worker"),
			Args:    getEnvAsSlice("FLOWFILE_WORKER_ARGS", []string{}),
		},
		ArtifactCache: ArtifactCacheConfig{
			Dir:              getEnv("FLOWFILE_ARTIFACT_DIR", "./data/artifacts"),
			MaxBytes:         getEnvAsInt64("FLOWFILE_CACHE_BYTES", 10*1024*1024*1024),
			EvictionInterval: getEnvAsDuration("FLOWFILE_CACHE_EVICT_INTERVAL", 5*time.Minute),
		},
		Execution: ExecutionConfig{
			MaxParallel:   getEnvAsInt("FLOWFILE_MAX_PARALLEL", 0),
			TaskTimeout:   time.Duration(getEnvAsInt("FLOWFILE_TASK_TIMEOUT_SEC", 1800)) * time.Second,
			CancelGrace:   time.Duration(getEnvAsInt("FLOWFILE_CANCEL_GRACE_SEC", 30)) * time.Second,
			DevSampleRows: getEnvAsInt64("FLOWFILE_DEV_SAMPLE_ROWS", 10000),
			PreviewRows:   getEnvAsInt("FLOWFILE_PREVIEW_ROWS", 1000),
		},
		EventBus: EventBusConfig{
			SubscriberBuffer: getEnvAsInt("FLOWFILE_EVENTBUS_BUFFER", 256),
			RunRetention:     getEnvAsDuration("FLOWFILE_RUN_RETENTION", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration's structural invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Database.Enabled() && c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database min connections cannot exceed max connections")
	}

	if c.Worker.Command == "" {
		return fmt.Errorf("FLOWFILE_WORKER_CMD is required")
	}

	if c.Execution.MaxParallel < 0 {
		return fmt.Errorf("FLOWFILE_MAX_PARALLEL cannot be negative")
	}
	if c.Execution.DevSampleRows < 1 {
		return fmt.Errorf("FLOWFILE_DEV_SAMPLE_ROWS must be at least 1")
	}

	return nil
}

// Helper functions for environment variables.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	current := ""
	for _, ch := range valueStr {
		if ch == ',' {
			if current != "" {
				result = append(result, current)
				current = ""
			}
		} else {
			current += string(ch)
		}
	}
	if current != "" {
		result = append(result, current)
	}
	return result
}
