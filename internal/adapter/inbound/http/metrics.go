package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP transport's Prometheus metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuthFailures    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentshield",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"endpoint", "method", "status"}, // status=ok/client_error/server_error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentshield",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds, including approval waits",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"endpoint", "method"},
		),
		AuthFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentshield",
				Subsystem: "http",
				Name:      "auth_failures_total",
				Help:      "Requests rejected for a missing or unknown API key",
			},
		),
	}
}
