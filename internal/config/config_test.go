package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutFile(t *testing.T) {
	loader, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	cfg := loader.Current()
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.LeaseTimeout)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "exponential", cfg.Backoff.Strategy)
	assert.Equal(t, time.Second, cfg.Backoff.Initial)
	assert.Equal(t, 30*time.Second, cfg.Backoff.Cap)
	assert.Equal(t, int64(25<<20), cfg.MaxAttachmentSize)
	assert.Equal(t, int64(1000), cfg.Thresholds.QueueDepth)
	assert.False(t, cfg.OTELEnabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis_url: redis://cache.internal:6379/2
workers: 16
poll_interval: 250ms
backoff:
  strategy: linear
  initial: 5s
thresholds:
  queue_depth: 5000
email_domain: mailworks.example
`), 0o644))

	loader, err := Load(path)
	require.NoError(t, err)

	cfg := loader.Current()
	assert.Equal(t, "redis://cache.internal:6379/2", cfg.RedisURL)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "linear", cfg.Backoff.Strategy)
	assert.Equal(t, 5*time.Second, cfg.Backoff.Initial)
	// Unset keys keep defaults.
	assert.Equal(t, 30*time.Second, cfg.Backoff.Cap)
	assert.Equal(t, int64(5000), cfg.Thresholds.QueueDepth)
	assert.Equal(t, "mailworks.example", cfg.EmailDomain)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0o644))

	t.Setenv("MW_WORKERS", "32")
	t.Setenv("MW_FROM_ADDRESS", "robot@mailworks.example")

	loader, err := Load(path)
	require.NoError(t, err)

	cfg := loader.Current()
	assert.Equal(t, 32, cfg.Workers)
	assert.Equal(t, "robot@mailworks.example", cfg.FromAddress)
}

func TestMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [not: closed\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
