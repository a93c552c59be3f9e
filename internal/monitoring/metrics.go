package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the terminal service. Each
// instance carries its own registry so multiple instances can coexist in
// tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Command execution metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	TimeoutsTotal   *prometheus.CounterVec
	ResetsTotal     prometheus.Counter
	InterruptsTotal prometheus.Counter

	// Session and stream metrics
	SessionsActive prometheus.Gauge
	StreamsActive  prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector with a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_commands_total",
				Help: "Total number of executed commands by backend and final status",
			},
			[]string{"backend", "status"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhost_command_duration_seconds",
				Help:    "Wall-clock time spent waiting for command completion",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"backend"},
		),
		TimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_timeouts_total",
				Help: "Total number of command timeouts by kind",
			},
			[]string{"kind"},
		),
		ResetsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_resets_total",
				Help: "Total number of session resets",
			},
		),
		InterruptsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_interrupts_total",
				Help: "Total number of interrupt requests",
			},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_sessions_active",
				Help: "Number of live terminal sessions",
			},
		),
		StreamsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_streams_active",
				Help: "Number of live raw PTY streams",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommand records one executed command and its final status.
func (m *Metrics) RecordCommand(backend, status string, duration time.Duration) {
	m.CommandsTotal.WithLabelValues(backend, status).Inc()
	m.CommandDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordTimeout records one command timeout of the given kind.
func (m *Metrics) RecordTimeout(kind string) {
	m.TimeoutsTotal.WithLabelValues(kind).Inc()
}

// SetSessionsActive sets the live session gauge.
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// SetStreamsActive sets the live stream gauge.
func (m *Metrics) SetStreamsActive(count int) {
	m.StreamsActive.Set(float64(count))
}

// IncWSConnections increments the WebSocket connection gauge.
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements the WebSocket connection gauge.
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
