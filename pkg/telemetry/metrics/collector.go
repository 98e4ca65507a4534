package metrics

import (
	"time"

	"mercator-hq/sextant/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every Prometheus metric exported by Sextant. Components
// receive a *Collector through their constructors; a nil *Collector is valid
// and records nothing, which keeps tests free of registry setup.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	router    *RouterMetrics
	cache     *CacheMetrics
	limits    *LimitsMetrics
	workflow  *WorkflowMetrics
	retrieval *RetrievalMetrics
}

// NewCollector creates a collector and registers all metrics with registry.
// If registry is nil, a fresh registry is created.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	router.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = config.DefaultDurationBuckets
	}

	return &Collector{
		config:    cfg,
		registry:  registry,
		router:    NewRouterMetrics(cfg, registry),
		cache:     NewCacheMetrics(cfg, registry),
		limits:    NewLimitsMetrics(cfg, registry),
		workflow:  NewWorkflowMetrics(cfg, registry),
		retrieval: NewRetrievalMetrics(cfg, registry),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordRoute records a finished Route call.
//
// Parameters:
//   - mode: the mode that produced the outcome ("auto", "medium", "deep", "workflow")
//   - outcome: "success", "cached", "denied", "failed", "degraded"
//   - duration: wall time of the Route call
func (c *Collector) RecordRoute(mode, outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.router.Record(mode, outcome, duration)
}

// RecordClassification records the mode chosen for a query without an explicit mode.
func (c *Collector) RecordClassification(mode string) {
	if !c.enabled() {
		return
	}
	c.router.classified.WithLabelValues(mode).Inc()
}

// RecordCacheHit records a response cache hit.
func (c *Collector) RecordCacheHit() {
	if !c.enabled() {
		return
	}
	c.cache.hitsTotal.Inc()
}

// RecordCacheMiss records a response cache miss.
func (c *Collector) RecordCacheMiss() {
	if !c.enabled() {
		return
	}
	c.cache.missesTotal.Inc()
}

// RecordCacheError records a swallowed backing store failure.
//
// Parameters:
//   - op: "get", "set" or "delete"
func (c *Collector) RecordCacheError(op string) {
	if !c.enabled() {
		return
	}
	c.cache.errorsTotal.WithLabelValues(op).Inc()
}

// UpdateCacheEntries sets the number of entries held by the in-memory store.
func (c *Collector) UpdateCacheEntries(n int) {
	if !c.enabled() {
		return
	}
	c.cache.entries.Set(float64(n))
}

// RecordCacheEviction records an LRU eviction in the in-memory store.
func (c *Collector) RecordCacheEviction() {
	if !c.enabled() {
		return
	}
	c.cache.evictionsTotal.Inc()
}

// RecordAdmission records an admission decision.
//
// Parameters:
//   - decision: "allowed" or "denied"
//   - resource: the denying resource, or "" when allowed
func (c *Collector) RecordAdmission(decision, resource string) {
	if !c.enabled() {
		return
	}
	c.limits.decisions.WithLabelValues(decision, resource).Inc()
}

// UpdateQuotaUsage sets count/hardLimit for a resource.
func (c *Collector) UpdateQuotaUsage(resource string, ratio float64) {
	if !c.enabled() {
		return
	}
	c.limits.usageRatio.WithLabelValues(resource).Set(ratio)
}

// RecordCounterStoreError records a durable counter store failure.
func (c *Collector) RecordCounterStoreError(op string) {
	if !c.enabled() {
		return
	}
	c.limits.storeErrors.WithLabelValues(op).Inc()
}

// RecordStep records a finished workflow step.
//
// Parameters:
//   - mode: run mode
//   - step: step id
//   - status: "ok", "error", "budget_exceeded", "skipped", "timeout"
//   - tokens: generation tokens charged to the step
//   - duration: step wall time
func (c *Collector) RecordStep(mode, step, status string, tokens int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.workflow.Record(mode, step, status, tokens, duration)
}

// RecordBranch records which side of a conditional node was taken.
func (c *Collector) RecordBranch(mode, taken string) {
	if !c.enabled() {
		return
	}
	c.workflow.branches.WithLabelValues(mode, taken).Inc()
}

// RecordRetrieval records one retrieval call.
//
// Parameters:
//   - queries: number of query texts
//   - failed: number of queries that ended with an error
//   - passages: resolved passages returned
//   - unresolved: placeholder passages returned
func (c *Collector) RecordRetrieval(queries, failed, passages, unresolved int) {
	if !c.enabled() {
		return
	}
	c.retrieval.Record(queries, failed, passages, unresolved)
}

// RecordReplicaFallback records a chunk resolved by a replica after the primary missed.
func (c *Collector) RecordReplicaFallback(shard string) {
	if !c.enabled() {
		return
	}
	c.retrieval.replicaFallbacks.WithLabelValues(shard).Inc()
}

// RecordStaleChunk records a chunk whose ingest generation disagreed with the index.
func (c *Collector) RecordStaleChunk(shard string) {
	if !c.enabled() {
		return
	}
	c.retrieval.staleChunks.WithLabelValues(shard).Inc()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
