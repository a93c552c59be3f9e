package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// SessionConfig holds terminal session defaults.
type SessionConfig struct {
	// Shell is the shell binary used by the raw-pipe and tmux backends.
	Shell string `envconfig:"SHELL_BIN" default:"/bin/bash"`
	// TmuxBinary is probed on PATH to decide backend selection.
	TmuxBinary string `envconfig:"TMUX_BIN" default:"tmux"`
	// DisableTmux forces the raw-pipe backend even when tmux is available.
	DisableTmux bool `envconfig:"DISABLE_TMUX" default:"false"`
	// NoOutputTimeout fires when a command produces no new output between
	// polls for this long. Overridable per action.
	NoOutputTimeout time.Duration `envconfig:"NO_OUTPUT_TIMEOUT" default:"30s"`
	// HardTimeout is the absolute ceiling on waiting for a command,
	// regardless of output activity.
	HardTimeout time.Duration `envconfig:"HARD_TIMEOUT" default:"300s"`
	// PollInterval is the sleep between completion-marker polls.
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"500ms"`
	// HistoryLimit bounds the output buffer, in chunks. Oldest chunks are
	// evicted first.
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"10000"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from TERMHOST_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("termhost", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "0.0.0.0",
		},
		Session: DefaultSessionConfig(),
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// DefaultSessionConfig returns default session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Shell:           "/bin/bash",
		TmuxBinary:      "tmux",
		NoOutputTimeout: 30 * time.Second,
		HardTimeout:     300 * time.Second,
		PollInterval:    500 * time.Millisecond,
		HistoryLimit:    10000,
	}
}
