package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/sextant/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(context.Background(), &config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tracer.Enabled() {
		t.Error("Expected disabled tracer")
	}

	ctx, span := tracer.Start(context.Background(), "router.route")
	SetRouteAttributes(span, "auto", "run-1", false)
	End(span, errors.New("boom"))

	if TraceID(ctx) != "" {
		t.Errorf("Expected no trace id from noop span, got %q", TraceID(ctx))
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestNew_InvalidRatio(t *testing.T) {
	_, err := New(context.Background(), &config.TracingConfig{Enabled: true, SampleRatio: 2})
	if err == nil {
		t.Error("Expected error for invalid sample ratio")
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	_, span := tracer.Start(context.Background(), "workflow.step")
	SetStepAttributes(span, "synthesize", 2500, 1200, "ok")
	End(span, nil)

	if tracer.Enabled() {
		t.Error("Expected nil tracer to be disabled")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestHTTPMiddleware_EchoesTraceID(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	var seen string
	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/research", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("Expected trace id from traceparent, got %q", seen)
	}
	if rec.Header().Get(TraceIDHeader) != seen {
		t.Errorf("Expected X-Trace-ID header %q, got %q", seen, rec.Header().Get(TraceIDHeader))
	}
}
