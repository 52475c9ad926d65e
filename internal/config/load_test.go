package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "thisisasecretkeythatis32charslong!!"

// TestLoadDefaults verifies the defaults when only the required secret is set.
func TestLoadDefaults(t *testing.T) {
	t.Setenv("REPORTS_AUTH_JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err, "Load() should not return an error with default values")
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 4, cfg.Queue.WorkerCount)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Queue.BaseDelay)
	assert.Equal(t, 100, cfg.Queue.RetainCompleted)
	assert.Equal(t, 50, cfg.Queue.RetainFailed)
	assert.False(t, cfg.Queue.RecoverOrphans)
	assert.Equal(t, 30*time.Minute, cfg.Cleanup.StaleInterval)
	assert.Equal(t, time.Hour, cfg.Cleanup.StaleAfter)
	assert.Equal(t, 7*24*time.Hour, cfg.Jobs.TTL)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("REPORTS_AUTH_JWT_SECRET", testSecret)
	t.Setenv("REPORTS_SERVER_PORT", "9090")
	t.Setenv("REPORTS_QUEUE_WORKER_COUNT", "8")
	t.Setenv("REPORTS_QUEUE_BASE_DELAY", "250ms")
	t.Setenv("REPORTS_CLEANUP_STALE_AFTER", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Queue.WorkerCount)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.BaseDelay)
	assert.Equal(t, 2*time.Hour, cfg.Cleanup.StaleAfter)
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"short secret", map[string]string{"REPORTS_AUTH_JWT_SECRET": "short"}},
		{"bad log level", map[string]string{"REPORTS_SERVER_LOG_LEVEL": "verbose"}},
		{"bad queue backend", map[string]string{"REPORTS_QUEUE_BACKEND": "redis"}},
		{"postgres queue without database", map[string]string{"REPORTS_QUEUE_BACKEND": "postgres"}},
		{"s3 without bucket", map[string]string{"REPORTS_STORAGE_BACKEND": "s3"}},
		{"source driver without dsn", map[string]string{"REPORTS_SOURCE_DRIVER": "mysql"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := tc.env["REPORTS_AUTH_JWT_SECRET"]; !ok && tc.name != "missing secret" {
				t.Setenv("REPORTS_AUTH_JWT_SECRET", testSecret)
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.yaml")
	content := []byte(`
server:
  port: 7000
auth:
  jwt_secret: "` + testSecret + `"
storage:
  backend: local
  local_root: /tmp/reports
source:
  driver: sqlite
  dsn: "file::memory:"
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/tmp/reports", cfg.Storage.LocalRoot)
	assert.Equal(t, "sqlite", cfg.Source.Driver)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
