// Package server exposes the router over HTTP.
//
// # Routes
//
//   - POST /v1/research answers a question. The body is a ResearchRequest and
//     the answer a router.Response.
//   - POST /v1/cache/invalidate drops one cached answer (204).
//   - GET /healthz and /readyz are the liveness and readiness probes.
//   - GET /metrics serves Prometheus metrics.
//   - GET /version reports build information.
//
// # Errors
//
// Errors are JSON ErrorResponse bodies. A quota denial answers 429 with a
// Retry-After header in whole seconds; a failed run answers 503; malformed
// input answers 400.
//
//	curl -s localhost:8080/v1/research \
//	    -d '{"question":"What is the minimum wage in Ontario?","jurisdiction":"CA-ON"}'
//
// # Middleware
//
// Requests pass through request ID assignment, access logging, panic recovery
// and trace context extraction, in that order. Routes under /v1 are bounded
// by server.request_timeout.
//
// # Lifecycle
//
// Start blocks until its context is canceled, SIGINT or SIGTERM arrives or
// Stop is called, then shuts down gracefully within server.shutdown_timeout.
package server
