// Package metrics provides Prometheus metrics for Sextant.
//
// # Metrics Categories
//
//   - Router: requests by mode and outcome, latency, heuristic classifications
//   - Cache: hits, misses, swallowed store errors, entries, evictions
//   - Limits: admission decisions, usage ratio per resource, counter store errors
//   - Workflow: steps by status, tokens per step, step latency, branch outcomes
//   - Retrieval: query results, resolved and unresolved passages, replica fallbacks
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordRoute("auto", "success", time.Second)
//	mux.Handle("/metrics", collector.Handler())
//
// Every recording method is safe on a nil *Collector.
package metrics
