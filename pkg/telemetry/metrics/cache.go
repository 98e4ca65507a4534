package metrics

import (
	"mercator-hq/sextant/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics tracks response cache behaviour.
//
// Metrics:
//   - sextant_cache_hits_total
//   - sextant_cache_misses_total
//   - sextant_cache_errors_total: swallowed backing store failures by operation
//   - sextant_cache_entries: entries held by the in-memory store
//   - sextant_cache_evictions_total: LRU evictions
type CacheMetrics struct {
	hitsTotal      prometheus.Counter
	missesTotal    prometheus.Counter
	errorsTotal    *prometheus.CounterVec
	entries        prometheus.Gauge
	evictionsTotal prometheus.Counter
}

// NewCacheMetrics creates and registers cache metrics.
func NewCacheMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CacheMetrics {
	cm := &CacheMetrics{
		hitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of response cache hits",
		}),
		missesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of response cache misses",
		}),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "cache",
				Name:      "errors_total",
				Help:      "Backing store failures that were swallowed",
			},
			[]string{"op"},
		),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of entries in the in-memory store",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of LRU evictions",
		}),
	}

	registry.MustRegister(cm.hitsTotal, cm.missesTotal, cm.errorsTotal, cm.entries, cm.evictionsTotal)
	return cm
}
