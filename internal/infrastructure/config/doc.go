// Package config provides 12-factor configuration management for the Aura backend.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, shutdown timeout)
//   - Logging: Log level and output format
//   - Bridge: shell, idle timeout, reaper interval, buffers, process-kind catalog
//   - WebSocket: keepalive and message limits
//   - RateLimit: Per-IP connection rate limiting
//   - CORS: Allowed browser origins
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s\n", cfg.Server.Addr())
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
//   - BRIDGE_SHELL, BRIDGE_SHELL_PTY, BRIDGE_WORKDIR, BRIDGE_IDLE_TIMEOUT,
//     BRIDGE_REAP_INTERVAL, BRIDGE_READ_BUFFER, BRIDGE_BACKLOG_SIZE,
//     BRIDGE_KILL_GRACE, BRIDGE_PROCESS_KINDS_FILE, BRIDGE_SPAWN_FAILURES,
//     BRIDGE_SPAWN_COOLDOWN
//   - WS_PING_INTERVAL, WS_WRITE_TIMEOUT, WS_MAX_MESSAGE
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - CORS_ORIGINS
package config
