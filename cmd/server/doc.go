// Package main is the entry point for the termhost server.
//
// The server gives automated agents a persistent interactive shell over
// HTTP: commands run inside long-lived terminal sessions that keep their
// working directory, environment, and foreground processes between calls.
// Raw PTY streams are also exposed for clients that want to drive a
// terminal emulator directly over WebSocket.
//
// The server provides:
//   - REST API for session lifecycle and command execution
//   - WebSocket attach for raw PTY streams
//   - Prometheus metrics
//   - Rate limiting and request correlation
//
// Configuration:
//   - TERMHOST_-prefixed environment variables (12-factor)
//   - Defaults for development
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown, terminating every session
package main
