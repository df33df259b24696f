// Package telemetry exposes process-wide counters both as a Prometheus
// exposition endpoint and as the plain JSON /stats snapshot.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the gateway's counters on a private registry so only
// intentional metrics are exported.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       prometheus.Counter
	rateLimitRejections prometheus.Counter
	upstreamErrors      prometheus.Counter
	activeSessions      prometheus.GaugeFunc
	sessionCount        func() int
}

// Stats is the JSON snapshot served by /stats.
type Stats struct {
	RequestsServed      int64 `json:"requests_served"`
	ActiveSessions      int   `json:"active_sessions"`
	RateLimitRejections int64 `json:"rate_limit_rejections"`
	UpstreamErrors      int64 `json:"upstream_errors"`
}

// NewMetrics creates and registers the gateway metrics. sessionCount
// reports the number of live conversation sessions.
func NewMetrics(sessionCount func() int) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonarbridge",
			Name:      "requests_total",
			Help:      "Chat completion requests received.",
		}),
		rateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonarbridge",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonarbridge",
			Name:      "upstream_errors_total",
			Help:      "Upstream turns that failed to open or complete.",
		}),
		activeSessions: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sonarbridge",
			Name:      "active_sessions",
			Help:      "Live conversation sessions.",
		}, func() float64 { return float64(sessionCount()) }),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.rateLimitRejections,
		m.upstreamErrors,
		m.activeSessions,
		collectors.NewGoCollector(),
	)

	m.sessionCount = sessionCount
	return m
}

// IncRequests counts one received chat completion request.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncRateLimitRejections counts one rejected request.
func (m *Metrics) IncRateLimitRejections() { m.rateLimitRejections.Inc() }

// IncUpstreamErrors counts one failed upstream turn.
func (m *Metrics) IncUpstreamErrors() { m.upstreamErrors.Inc() }

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot reads the current counter values for the JSON stats endpoint.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		RequestsServed:      counterValue(m.requestsTotal),
		ActiveSessions:      m.sessionCount(),
		RateLimitRejections: counterValue(m.rateLimitRejections),
		UpstreamErrors:      counterValue(m.upstreamErrors),
	}
}

func counterValue(c prometheus.Counter) int64 {
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		return 0
	}
	return int64(metric.GetCounter().GetValue())
}
