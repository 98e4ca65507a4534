package metrics

import (
	"mercator-hq/sextant/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// LimitsMetrics tracks admission control.
//
// Metrics:
//   - sextant_limits_decisions_total: admission decisions by outcome and denying resource
//   - sextant_limits_usage_ratio: count/hard limit per resource
//   - sextant_limits_counter_store_errors_total: durable counter store failures
type LimitsMetrics struct {
	decisions   *prometheus.CounterVec
	usageRatio  *prometheus.GaugeVec
	storeErrors *prometheus.CounterVec
}

// NewLimitsMetrics creates and registers limiter metrics.
func NewLimitsMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LimitsMetrics {
	lm := &LimitsMetrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limits",
				Name:      "decisions_total",
				Help:      "Admission decisions by outcome and denying resource",
			},
			[]string{"decision", "resource"},
		),
		usageRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limits",
				Name:      "usage_ratio",
				Help:      "Current window usage as a fraction of the hard limit",
			},
			[]string{"resource"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limits",
				Name:      "counter_store_errors_total",
				Help:      "Durable counter store failures treated as zero usage",
			},
			[]string{"op"},
		),
	}

	registry.MustRegister(lm.decisions, lm.usageRatio, lm.storeErrors)
	return lm
}
