// Package tracing provides OpenTelemetry tracing for Sextant.
//
// Spans are exported over OTLP gRPC when telemetry.tracing.enabled is set;
// otherwise every span is a noop. Sampling is parent based with a trace-ID
// ratio for root spans.
//
// Span names:
//
//   - router.route: one Route call, annotated with mode, run id and cache hit
//   - workflow.step: one step, annotated with budget, tokens and status
//   - retrieval.retrieve: one batched retrieval call
//
// Incoming HTTP requests carry W3C trace context through HTTPMiddleware.
//
//	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing)
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "router.route")
//	defer span.End()
package tracing
