package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "sqlite3", cfg.Database.Dialect)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Sync.BatchDeadline.Std())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
listen: ":9999"
database:
  dialect: postgres
  dsn: host=db user=pos dbname=pos
sync:
  max_retries: 5
  retry_backoff: 200ms
  batch_deadline: 10s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.RetryBackoff.Std())
	assert.Equal(t, 10*time.Second, cfg.Sync.BatchDeadline.Std())
	// Untouched keys keep their defaults.
	assert.Equal(t, 500, cfg.Sync.MaxBatchSize)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  retry_backoff: soon\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
