package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Server.Address)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Reconnect.MaxDelay)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9100"
relay:
  ping_interval: 10s
redis:
  enabled: true
  address: "redis:6379"
  pool_size: 4
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Relay.PingInterval)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	// Untouched sections keep defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VOICEHUB_SERVER_ADDRESS", ":7000")
	t.Setenv("VOICEHUB_LOG_LEVEL", "debug")
	t.Setenv("VOICEHUB_REDIS_ADDRESS", "envredis:6379")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "envredis:6379", cfg.Redis.Address)
	assert.True(t, cfg.Redis.Enabled)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"zero ping interval", func(c *Config) { c.Relay.PingInterval = 0 }},
		{"max delay below initial", func(c *Config) { c.Reconnect.MaxDelay = c.Reconnect.InitialDelay / 2 }},
		{"rate limit without budget", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.MessagesPerSecond = 0
		}},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ""
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
