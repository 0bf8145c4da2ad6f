package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearFlowfileEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		for i := 0; i < len(e); i++ {
			if e[i] == '=' {
				key := e[:i]
				if len(key) >= 9 && key[:9] == "FLOWFILE_" {
					t.Setenv(key, "")
					os.Unsetenv(key)
				}
				break
			}
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearFlowfileEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8585, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, "flowfile-worker", cfg.Worker.Command)
	assert.Equal(t, int64(10000), cfg.Execution.DevSampleRows)
	assert.Equal(t, 1000, cfg.Execution.PreviewRows)
	assert.Equal(t, time.Hour, cfg.EventBus.RunRetention)
}

func TestLoadReadsOverrides(t *testing.T) {
	clearFlowfileEnv(t)
	t.Setenv("FLOWFILE_PORT", "9000")
	t.Setenv("FLOWFILE_DATABASE_URL", "postgres://localhost/flowfile")
	t.Setenv("FLOWFILE_MAX_PARALLEL", "4")
	t.Setenv("FLOWFILE_DEV_SAMPLE_ROWS", "500")
	t.Setenv("FLOWFILE_CORS_ALLOWED_ORIGINS", "https://a.test,https://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, 4, cfg.Execution.MaxParallel)
	assert.Equal(t, int64(500), cfg.Execution.DevSampleRows)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Server.CORSAllowedOrigins)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingWorkerCommand(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.Command = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDatabasePoolInversion(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://localhost/flowfile"
	cfg.Database.MinConnections = 10
	cfg.Database.MaxConnections = 2
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroDevSampleRows(t *testing.T) {
	cfg := validConfig()
	cfg.Execution.DevSampleRows = 0
	assert.Error(t, cfg.Validate())
}

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8585},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Worker:  WorkerConfig{Command: "flowfile-worker"},
		Execution: ExecutionConfig{
			DevSampleRows: 10000,
		},
	}
}
