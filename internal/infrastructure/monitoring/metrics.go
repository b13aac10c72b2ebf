package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  *prometheus.GaugeVec
	SessionsCreated *prometheus.CounterVec
	SessionsClosed  *prometheus.CounterVec
	SpawnErrors     *prometheus.CounterVec

	// Bridge metrics
	BridgesActive  *prometheus.GaugeVec
	BytesRelayed   *prometheus.CounterVec
	BridgeDuration *prometheus.HistogramVec
	ConnRejections *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector backed by its own registry, so
// several instances can coexist in one process (tests, embedded servers).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aura_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (WebSocket routes measure the whole connection)",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30, 120, 600},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aura_sessions_active",
				Help: "Number of registered sessions",
			},
			[]string{"kind"},
		),
		SessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_sessions_created_total",
				Help: "Total number of sessions created",
			},
			[]string{"kind"},
		),
		SessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_sessions_closed_total",
				Help: "Total number of sessions removed from the registry",
			},
			[]string{"kind", "reason"},
		),
		SpawnErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_spawn_errors_total",
				Help: "Total number of failed process spawns",
			},
			[]string{"kind"},
		),

		// Bridge metrics
		BridgesActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "aura_bridges_active",
				Help: "Number of running stream bridges",
			},
			[]string{"kind"},
		),
		BytesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_bridge_bytes_total",
				Help: "Bytes relayed between connections and processes",
			},
			[]string{"kind", "direction"},
		),
		BridgeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aura_bridge_duration_seconds",
				Help:    "Lifetime of a stream bridge in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
			},
			[]string{"kind", "reason"},
		),
		ConnRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aura_connection_rejections_total",
				Help: "WebSocket connections closed before a bridge started",
			},
			[]string{"endpoint", "reason"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aura_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aura_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	return m
}

// Run updates the uptime gauge until ctx is cancelled.
func (m *Metrics) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Uptime.Set(m.UptimeSeconds())
		}
	}
}

// UptimeSeconds returns seconds since the collector was created.
func (m *Metrics) UptimeSeconds() float64 {
	return time.Since(m.startTime).Seconds()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SessionCreated records a new registry entry
func (m *Metrics) SessionCreated(kind string) {
	m.SessionsCreated.WithLabelValues(kind).Inc()
	m.SessionsActive.WithLabelValues(kind).Inc()
}

// SessionClosed records a registry entry being removed
func (m *Metrics) SessionClosed(kind, reason string) {
	m.SessionsClosed.WithLabelValues(kind, reason).Inc()
	m.SessionsActive.WithLabelValues(kind).Dec()
}

// RecordSpawnError records a failed spawn
func (m *Metrics) RecordSpawnError(kind string) {
	m.SpawnErrors.WithLabelValues(kind).Inc()
}

// BridgeStarted records a bridge attaching to a session
func (m *Metrics) BridgeStarted(kind string) {
	m.BridgesActive.WithLabelValues(kind).Inc()
}

// BridgeFinished records a bridge detaching
func (m *Metrics) BridgeFinished(kind, reason string, duration time.Duration) {
	m.BridgesActive.WithLabelValues(kind).Dec()
	m.BridgeDuration.WithLabelValues(kind, reason).Observe(duration.Seconds())
}

// AddBytes records relayed bytes; direction is "inbound" or "outbound"
func (m *Metrics) AddBytes(kind, direction string, n int) {
	m.BytesRelayed.WithLabelValues(kind, direction).Add(float64(n))
}

// RecordRejection records a connection closed before bridging
func (m *Metrics) RecordRejection(endpoint, reason string) {
	m.ConnRejections.WithLabelValues(endpoint, reason).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
