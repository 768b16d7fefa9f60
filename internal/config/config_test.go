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
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultMaxPerMinute, cfg.RateLimit.MaxPerMinute)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Equal(t, 500*time.Millisecond, cfg.Delivery.PartDelay())
	assert.Equal(t, DefaultInboundWorkers, cfg.Ingest.Workers)
	assert.Equal(t, 30*time.Second, cfg.Generator.Timeout())
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "debug"
format = "json"

[server]
addr = ":9999"
webhook_secret = "shh"

[rate_limit]
max_per_minute = 3
window_seconds = 10

[delivery]
part_delay_ms = 50

[generator]
base_url = "http://localhost:8000/v1"
model = "test-model"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "shh", cfg.Server.WebhookSecret)
	assert.Equal(t, 3, cfg.RateLimit.MaxPerMinute)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window())
	assert.Equal(t, 50*time.Millisecond, cfg.Delivery.PartDelay())
	assert.Equal(t, "http://localhost:8000/v1", cfg.Generator.BaseURL)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, DefaultPGHost, cfg.Postgres.Host)
	assert.Equal(t, DefaultRedisAddr, cfg.Redis.Address())
}

func TestLoadMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\naddr = 1"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
