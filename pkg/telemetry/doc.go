// Package telemetry groups Sextant's observability packages.
//
//   - logging: slog construction, context fields, secret and question redaction
//   - metrics: Prometheus collector for router, cache, limits, workflow and retrieval
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - health: liveness and readiness probes
package telemetry
