package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	SessionsDir string `env:"SESSIONS_DIR" envDefault:"sessions"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Optional collaborators. Empty disables the feature.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	PairingDelayMs      int `env:"PAIRING_DELAY_MS" envDefault:"2000"`
	CodeTTLMs           int `env:"CODE_TTL_MS" envDefault:"60000"`
	CleanupGraceMs      int `env:"CLEANUP_GRACE_MS" envDefault:"900000"`
	ReconnectRetryMs    int `env:"RECONNECT_RETRY_MS" envDefault:"3000"`
	ReconnectDeadlineMs int `env:"RECONNECT_DEADLINE_MS" envDefault:"30000"`
	BootstrapDelayMs    int `env:"BOOTSTRAP_DELAY_MS" envDefault:"500"`
	KeepAliveIntervalMs int `env:"KEEPALIVE_INTERVAL_MS" envDefault:"60000"`

	EventRetentionDays int `env:"EVENT_RETENTION_DAYS" envDefault:"7"`

	WelcomeMessage string `env:"WELCOME_MESSAGE" envDefault:"Your bot is online."`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) PairingDelay() time.Duration {
	return time.Duration(c.PairingDelayMs) * time.Millisecond
}

func (c *Config) CodeTTL() time.Duration {
	return time.Duration(c.CodeTTLMs) * time.Millisecond
}

func (c *Config) CleanupGrace() time.Duration {
	return time.Duration(c.CleanupGraceMs) * time.Millisecond
}

func (c *Config) ReconnectRetry() time.Duration {
	return time.Duration(c.ReconnectRetryMs) * time.Millisecond
}

func (c *Config) ReconnectDeadline() time.Duration {
	return time.Duration(c.ReconnectDeadlineMs) * time.Millisecond
}

func (c *Config) BootstrapDelay() time.Duration {
	return time.Duration(c.BootstrapDelayMs) * time.Millisecond
}

func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalMs) * time.Millisecond
}

func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

func (c *Config) Validate() error {
	if c.SessionsDir == "" {
		return fmt.Errorf("SESSIONS_DIR must not be empty")
	}
	if c.CodeTTLMs <= 0 {
		return fmt.Errorf("CODE_TTL_MS must be positive")
	}
	if c.CleanupGraceMs <= 0 {
		return fmt.Errorf("CLEANUP_GRACE_MS must be positive")
	}
	if c.ReconnectDeadlineMs <= 0 {
		return fmt.Errorf("RECONNECT_DEADLINE_MS must be positive")
	}
	if c.EventRetentionDays <= 0 {
		return fmt.Errorf("EVENT_RETENTION_DAYS must be positive")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
