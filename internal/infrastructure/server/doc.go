// Package server assembles the bridge: configuration, logging, metrics,
// tracing, the session registry and reaper, and the gin router serving the
// WebSocket and REST endpoints. Serve owns the lifecycle and shuts
// everything down when its context ends.
package server
