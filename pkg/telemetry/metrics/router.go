package metrics

import (
	"time"

	"mercator-hq/sextant/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RouterMetrics tracks Route calls.
//
// Metrics:
//   - sextant_router_requests_total: Route calls by mode and outcome
//   - sextant_router_request_duration_seconds: Route latency by mode
//   - sextant_router_classified_total: heuristic mode classifications
type RouterMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	classified      *prometheus.CounterVec
}

// NewRouterMetrics creates and registers router metrics.
func NewRouterMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RouterMetrics {
	rm := &RouterMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "router",
				Name:      "requests_total",
				Help:      "Total number of research requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "router",
				Name:      "request_duration_seconds",
				Help:      "Research request duration in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"mode"},
		),
		classified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "router",
				Name:      "classified_total",
				Help:      "Queries without an explicit mode, by classified mode",
			},
			[]string{"mode"},
		),
	}

	registry.MustRegister(rm.requestsTotal, rm.requestDuration, rm.classified)
	return rm
}

// Record records one Route call.
func (rm *RouterMetrics) Record(mode, outcome string, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(mode, outcome).Inc()
	rm.requestDuration.WithLabelValues(mode).Observe(duration.Seconds())
}
