// Package main is the entry point for the Aura bridge server.
//
// The server connects browser clients to local processes over WebSocket:
//
//	Browser ──/ws/terminal──▶ persistent shell (survives reconnects)
//	        ──/ws/lsp───────▶ language server (one per connection)
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server --port 8000 --kinds kinds.yaml
//
//	# Development mode (colored logs, debug level)
//	./server --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
