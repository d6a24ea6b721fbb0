package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsOpen     prometheus.Gauge
	SessionsTotal    prometheus.Counter
	ConnectionsBound prometheus.Gauge

	// Process metrics
	ProcessesRunning prometheus.Gauge
	SpawnsTotal      prometheus.Counter
	SpawnFailures    prometheus.Counter

	// Protocol metrics
	MessagesTotal   *prometheus.CounterVec
	ExecuteTotal    *prometheus.CounterVec
	ExecuteDuration prometheus.Histogram

	gatherer  prometheus.Gatherer
	startTime time.Time
}

// NewMetrics creates a metrics collector registered on a private registry
// so repeated construction in tests does not panic on duplicates.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith registers the collectors on the provided registry.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	m := newMetrics(reg)
	m.gatherer = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "previewd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "previewd_sessions_open",
				Help: "Number of currently open preview sessions",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "previewd_sessions_total",
				Help: "Total number of preview sessions opened",
			},
		),
		ConnectionsBound: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "previewd_connections_bound",
				Help: "Number of WebSocket connections bound to a session",
			},
		),

		ProcessesRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "previewd_processes_running",
				Help: "Number of app server processes currently tracked",
			},
		),
		SpawnsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "previewd_spawns_total",
				Help: "Total number of app server processes spawned",
			},
		),
		SpawnFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "previewd_spawn_failures_total",
				Help: "Total number of failed spawn or readiness attempts",
			},
		),

		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewd_protocol_messages_total",
				Help: "Total protocol messages by type and direction",
			},
			[]string{"type", "direction"},
		),
		ExecuteTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "previewd_execute_total",
				Help: "Capability invocations by outcome",
			},
			[]string{"outcome"},
		),
		ExecuteDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "previewd_execute_duration_seconds",
				Help:    "Capability invocation round-trip duration",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Gatherer exposes the collector's registry for scrape handlers.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.gatherer
}
