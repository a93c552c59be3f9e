// Package config provides 12-factor configuration for termhost.
//
// Configuration is loaded from TERMHOST_-prefixed environment variables
// with sensible defaults.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Session: terminal backend selection, timeouts, and buffer bounds
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - TERMHOST_PORT, TERMHOST_HOST
//   - TERMHOST_SHELL_BIN, TERMHOST_TMUX_BIN, TERMHOST_DISABLE_TMUX
//   - TERMHOST_NO_OUTPUT_TIMEOUT, TERMHOST_HARD_TIMEOUT, TERMHOST_POLL_INTERVAL
//   - TERMHOST_LOG_LEVEL, TERMHOST_LOG_DEV
//   - TERMHOST_RATE_LIMIT_RPS, TERMHOST_RATE_LIMIT_BURST
package config
