package metrics

import (
	"mercator-hq/sextant/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RetrievalMetrics tracks the hybrid retrieval service.
//
// Metrics:
//   - sextant_retrieval_queries_total: query texts by result ("ok", "failed")
//   - sextant_retrieval_passages_total: passages returned by resolution ("resolved", "unresolved")
//   - sextant_retrieval_replica_fallbacks_total: chunks resolved by a replica
//   - sextant_retrieval_stale_chunks_total: chunks whose ingest generation changed
type RetrievalMetrics struct {
	queries          *prometheus.CounterVec
	passages         *prometheus.CounterVec
	replicaFallbacks *prometheus.CounterVec
	staleChunks      *prometheus.CounterVec
}

// NewRetrievalMetrics creates and registers retrieval metrics.
func NewRetrievalMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RetrievalMetrics {
	rm := &RetrievalMetrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retrieval",
				Name:      "queries_total",
				Help:      "Retrieval query texts by result",
			},
			[]string{"result"},
		),
		passages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retrieval",
				Name:      "passages_total",
				Help:      "Passages returned by resolution",
			},
			[]string{"resolution"},
		),
		replicaFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retrieval",
				Name:      "replica_fallbacks_total",
				Help:      "Chunks resolved by a replica after the primary missed",
			},
			[]string{"shard"},
		),
		staleChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retrieval",
				Name:      "stale_chunks_total",
				Help:      "Chunks returned with a newer ingest generation than the index entry",
			},
			[]string{"shard"},
		),
	}

	registry.MustRegister(rm.queries, rm.passages, rm.replicaFallbacks, rm.staleChunks)
	return rm
}

// Record records one retrieval call.
func (rm *RetrievalMetrics) Record(queries, failed, passages, unresolved int) {
	rm.queries.WithLabelValues("ok").Add(float64(queries - failed))
	rm.queries.WithLabelValues("failed").Add(float64(failed))
	rm.passages.WithLabelValues("resolved").Add(float64(passages))
	rm.passages.WithLabelValues("unresolved").Add(float64(unresolved))
}
