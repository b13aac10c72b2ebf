/*
Package monitoring provides metrics collection for the bridge backend.

# Overview

Prometheus metrics are registered on a registry owned by each Metrics value
rather than the global default registry.

# Metrics

- HTTP requests (count, latency) per route template
- Sessions active / created / closed by kind and reason
- Process spawn failures by kind
- Stream bridges active, lifetime, bytes relayed per direction
- WebSocket connections and early rejections
- Uptime plus Go runtime and process collectors

# Usage

	metrics := monitoring.NewMetrics()
	go metrics.Run(ctx)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

Recording methods require a non-nil *Metrics. Components that may run without
metrics nil-check their reference before recording.
*/
package monitoring
