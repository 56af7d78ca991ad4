package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Relay struct {
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		MaxMessageBytes int64         `yaml:"max_message_bytes"`
	} `yaml:"relay"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Reconnect struct {
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		MaxAttempts  int           `yaml:"max_attempts"`
	} `yaml:"reconnect"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= 0 {
		return fmt.Errorf("relay.pong_timeout must be > 0")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.MaxMessageBytes < 0 {
		return fmt.Errorf("relay.max_message_bytes must be >= 0")
	}

	if c.Reconnect.InitialDelay <= 0 {
		return fmt.Errorf("reconnect.initial_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay must be >= initial_delay")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must be >= 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":5000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.MaxMessageBytes = 64 * 1024

	cfg.WebRTC.ICEServers = []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty"`
	}{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Reconnect.InitialDelay = time.Second
	cfg.Reconnect.MaxDelay = 30 * time.Second
	cfg.Reconnect.MaxAttempts = 10

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.MessagesPerSecond = 50
	cfg.RateLimiting.Burst = 100

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("VOICEHUB_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("VOICEHUB_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("VOICEHUB_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("VOICEHUB_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
