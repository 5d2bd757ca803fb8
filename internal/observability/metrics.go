package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for mcpauth.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Authentication metrics.
	AuthAttemptsTotal *prometheus.CounterVec

	// Secret resolution metrics.
	SecretResolutionsTotal *prometheus.CounterVec

	// MCP upstream metrics.
	MCPCallsTotal   *prometheus.CounterVec
	MCPCallDuration *prometheus.HistogramVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		AuthAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpauth",
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total authentication attempts by outcome.",
		}, []string{"outcome"}),

		SecretResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpauth",
			Subsystem: "secrets",
			Name:      "resolutions_total",
			Help:      "Total secret resolution attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),

		MCPCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpauth",
			Subsystem: "mcp",
			Name:      "calls_total",
			Help:      "Total MCP tool calls.",
		}, []string{"server", "tool", "status"}),

		MCPCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpauth",
			Subsystem: "mcp",
			Name:      "call_duration_seconds",
			Help:      "MCP tool call duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"server", "tool"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpauth",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpauth",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcpauth",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.AuthAttemptsTotal,
		m.SecretResolutionsTotal,
		m.MCPCallsTotal,
		m.MCPCallDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordAuthAttempt increments the auth attempt counter for an outcome.
// Outcome is one of "ok", "unauthorized" or "error".
func (m *MetricsCollector) RecordAuthAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordSecretResolution increments the secret resolution counter.
// Outcome is one of "hit", "miss" or "unavailable".
func (m *MetricsCollector) RecordSecretResolution(provider, outcome string) {
	if m == nil {
		return
	}
	m.SecretResolutionsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordMCPCall records a completed MCP tool call.
func (m *MetricsCollector) RecordMCPCall(server, tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.MCPCallsTotal.WithLabelValues(server, tool, status).Inc()
	m.MCPCallDuration.WithLabelValues(server, tool).Observe(seconds)
}

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
