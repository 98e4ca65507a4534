// Package limits enforces the external generation and search quotas.
//
// A Limiter keeps one fixed-window counter per resource:
//
//   - generation_tokens_per_minute
//   - generation_tokens_per_day (UTC day, persisted in a storage.CounterStore)
//   - generation_requests_per_minute
//   - search_requests_per_minute
//
// A run is admitted with its estimated cost before it starts. Admission
// reserves every touched resource and denies once a projected count would
// pass hardLimit × threshold, releasing anything already reserved. After the
// run the reservation is settled once: Commit reconciles it with the actual
// usage and Rollback returns it.
//
// Counter store failures never deny a request. They are logged, counted and
// the limiter continues with its in-memory count.
package limits
