// Package http provides the REST handlers that sit next to the bridge
// WebSocket endpoints.
//
// Endpoints:
//   - Health: /health
//   - Terminal sessions: POST/GET /api/terminal/sessions, DELETE /api/terminal/sessions/:id
//   - Process kinds: /api/lsp/kinds
//
// Example Usage:
//
//	handlers := http.NewHandlers(registry, wsHandler, catalog, breakers, metrics, logger)
//	handlers.Register(router)
package http
