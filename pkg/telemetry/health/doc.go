// Package health implements the liveness and readiness probes.
//
// Liveness (/healthz) only reports that the process serves HTTP. Readiness
// (/readyz) runs the registered checks concurrently with a per-check timeout;
// the command registers one check per SQLite store and one for the vector
// index.
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("counter_store", counters.Ping)
//	r.Get("/readyz", checker.ReadinessHandler())
package health
