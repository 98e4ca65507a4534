package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceIDHeader echoes the caller's trace id on responses.
const TraceIDHeader = "X-Trace-ID"

// HTTPMiddleware continues a trace started by the caller. The traceparent
// header is read with the global propagator, so spans opened by the router
// become children of the caller's span. The trace id is echoed in
// X-Trace-ID so a failed research request can be found in the backend.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		if id := TraceID(ctx); id != "" {
			w.Header().Set(TraceIDHeader, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
