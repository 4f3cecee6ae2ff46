package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 3, cfg.Queue.MaxConcurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queue.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Queue.MaxDelay)
	assert.Equal(t, 10, cfg.Queue.DLQAlertDepth)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 0.90, cfg.Monitor.MinSuccessRate)
	assert.Equal(t, 10, cfg.Monitor.MinSampleSize)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_URL", "postgres://pipeline@localhost/pipeline")
	t.Setenv("EXTRACTION_MAX_CONCURRENCY", "8")
	t.Setenv("EXTRACTION_RETRY_BASE", "250ms")
	t.Setenv("MONITOR_MIN_SUCCESS_RATE", "0.75")
	t.Setenv("MONITOR_MAX_QUEUE_DEPTH", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, "postgres://pipeline@localhost/pipeline", cfg.Database.DSN)
	assert.Equal(t, 8, cfg.Queue.MaxConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.BaseDelay)
	assert.Equal(t, 0.75, cfg.Monitor.MinSuccessRate)
	assert.Equal(t, 50, cfg.Monitor.MaxQueueDepth, "unparseable values fall back to the default")
}

func TestApplyThresholdsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[queue]
max_attempts = 5
dlq_alert_depth = 25

[monitor]
max_queue_depth = 200
min_success_rate = 0.8
`), 0o644))

	cfg := LoadConfig()
	require.NoError(t, cfg.ApplyThresholdsFile(path))

	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 25, cfg.Queue.DLQAlertDepth)
	assert.Equal(t, 200, cfg.Monitor.MaxQueueDepth)
	assert.Equal(t, 0.8, cfg.Monitor.MinSuccessRate)
	assert.Equal(t, 10, cfg.Monitor.MinSampleSize, "unset keys keep their values")
}

func TestApplyThresholdsFileMissing(t *testing.T) {
	cfg := LoadConfig()
	assert.NoError(t, cfg.ApplyThresholdsFile(filepath.Join(t.TempDir(), "absent.toml")))
	assert.NoError(t, cfg.ApplyThresholdsFile(""))
}

func TestApplyThresholdsFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0o644))

	cfg := LoadConfig()
	err := cfg.ApplyThresholdsFile(path)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidConfig, CodeOf(err))
}

func TestConfigValidate(t *testing.T) {
	cfg := LoadConfig()
	cfg.Database.DSN = "postgres://pipeline@localhost/pipeline"
	assert.NoError(t, cfg.Validate())

	cfg.Database.DSN = ""
	assert.Error(t, cfg.Validate())

	cfg.Database.DSN = "postgres://pipeline@localhost/pipeline"
	cfg.Queue.MaxConcurrency = 0
	assert.Error(t, cfg.Validate())
}
