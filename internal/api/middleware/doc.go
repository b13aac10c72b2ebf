// Package middleware provides the gin middleware shared by the HTTP and
// WebSocket routes: CORS and per-IP rate limiting.
package middleware
