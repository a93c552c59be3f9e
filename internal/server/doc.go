// Package server provides HTTP server setup and initialization for
// termhost.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (request IDs, CORS, rate limiting, recovery, metrics)
//   - Terminal session manager (command execution with completion markers)
//   - Raw PTY stream manager (WebSocket attach)
//   - Prometheus metrics endpoint
//
// Server Lifecycle:
//  1. Load configuration from environment
//  2. Initialize logger (production or development)
//  3. Create session and stream managers
//  4. Setup HTTP routes and middleware
//  5. Start HTTP server
//  6. Graceful shutdown on signal, closing every session and stream
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv := server.New(cfg, logger)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
