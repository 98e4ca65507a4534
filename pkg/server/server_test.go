package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/sextant/pkg/cache"
	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/router"
	"mercator-hq/sextant/pkg/telemetry/health"
)

type fakeRouter struct {
	resp  *router.Response
	err   error
	panic bool
	got   router.Query
	calls int
}

func (f *fakeRouter) Route(_ context.Context, q router.Query) (*router.Response, error) {
	f.calls++
	f.got = q
	if f.panic {
		panic("boom")
	}
	return f.resp, f.err
}

type fakeInvalidator struct {
	keys []cache.Key
}

func (f *fakeInvalidator) Invalidate(_ context.Context, key cache.Key) {
	f.keys = append(f.keys, key)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(r Router, opts ...Option) *Server {
	cfg := &config.ServerConfig{
		ListenAddress:   "127.0.0.1:0",
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: time.Second,
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(cfg, r, opts...)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var out ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return out.Error
}

func TestResearch_Success(t *testing.T) {
	fr := &fakeRouter{resp: &router.Response{
		Answer:        "The general minimum wage in Ontario is $17.20 per hour.",
		Mode:          "auto",
		RequestedMode: "auto",
		RunID:         "run-1",
		StepsUsed:     2,
		ToolsCalled:   []string{"generation", "retrieval"},
	}}
	s := newTestServer(fr)

	rec := do(t, s.Handler(), http.MethodPost, "/v1/research",
		`{"question":"  What is the minimum wage in Ontario? ","jurisdiction":"CA-ON","history":[{"role":"user","text":"hi"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a request id header")
	}
	var resp router.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RunID != "run-1" || resp.StepsUsed != 2 {
		t.Errorf("Expected run-1 with 2 steps, got %+v", resp)
	}
	if fr.got.Text() != "What is the minimum wage in Ontario?" {
		t.Errorf("Expected trimmed question, got %q", fr.got.Text())
	}
	if fr.got.Jurisdiction() != "ca-on" {
		t.Errorf("Expected normalized jurisdiction ca-on, got %q", fr.got.Jurisdiction())
	}
	if len(fr.got.History()) != 1 {
		t.Errorf("Expected 1 history turn, got %d", len(fr.got.History()))
	}
}

func TestResearch_RequestIDIsEchoed(t *testing.T) {
	s := newTestServer(&fakeRouter{resp: &router.Response{Answer: "ok"}})

	req := httptest.NewRequest(http.MethodPost, "/v1/research", strings.NewReader(`{"question":"q"}`))
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("Expected request id req-42, got %q", got)
	}
}

func TestResearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
		wantRetry  string
		wantCalled bool
	}{
		{
			name: "quota denied",
			body: `{"question":"q"}`,
			err: &router.DeniedError{
				Mode: "deep", Reason: "rate_limit",
				Resource: "generation_tokens_per_day", RetryAfter: 44200 * time.Millisecond,
			},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   codeRateLimited,
			wantRetry:  "45",
			wantCalled: true,
		},
		{
			name:       "sub-second retry rounds up",
			body:       `{"question":"q"}`,
			err:        &router.DeniedError{Mode: "auto", RetryAfter: 10 * time.Millisecond},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   codeRateLimited,
			wantRetry:  "1",
			wantCalled: true,
		},
		{
			name:       "workflow failed",
			body:       `{"question":"q"}`,
			err:        &router.WorkflowError{Mode: "auto", Kind: "empty_or_short_output"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   codeUnavailable,
			wantCalled: true,
		},
		{
			name:       "unexpected error",
			body:       `{"question":"q"}`,
			err:        errors.New("kaput"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   codeInternal,
			wantCalled: true,
		},
		{
			name:       "malformed json",
			body:       `{"question":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   codeInvalidRequest,
		},
		{
			name:       "unknown field",
			body:       `{"question":"q","budget":9}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   codeInvalidRequest,
		},
		{
			name:       "empty question",
			body:       `{"question":"   "}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   codeInvalidRequest,
		},
		{
			name:       "unknown mode",
			body:       `{"question":"q","mode":"turbo"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   codeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := &fakeRouter{err: tt.err}
			s := newTestServer(fr)

			rec := do(t, s.Handler(), http.MethodPost, "/v1/research", tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Code != tt.wantCode {
				t.Errorf("Expected code %q, got %q", tt.wantCode, got.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("Expected Retry-After %q, got %q", tt.wantRetry, got)
			}
			if (fr.calls > 0) != tt.wantCalled {
				t.Errorf("Expected router called = %v, got %d calls", tt.wantCalled, fr.calls)
			}
		})
	}
}

func TestResearch_DeniedBodyNamesResource(t *testing.T) {
	s := newTestServer(&fakeRouter{err: &router.DeniedError{
		Mode: "auto", Resource: "generation_tokens_per_day", RetryAfter: 2 * time.Minute,
	}})

	rec := do(t, s.Handler(), http.MethodPost, "/v1/research", `{"question":"q"}`)

	body := decodeError(t, rec)
	if body.Resource != "generation_tokens_per_day" {
		t.Errorf("Expected resource in body, got %q", body.Resource)
	}
	if body.RetryAfterSeconds != 120 {
		t.Errorf("Expected 120 seconds, got %d", body.RetryAfterSeconds)
	}
}

func TestResearch_PanicIsRecovered(t *testing.T) {
	s := newTestServer(&fakeRouter{panic: true})

	rec := do(t, s.Handler(), http.MethodPost, "/v1/research", `{"question":"q"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Errorf("Expected panic value hidden, got %s", rec.Body.String())
	}
}

func TestInvalidate(t *testing.T) {
	inv := &fakeInvalidator{}
	s := newTestServer(&fakeRouter{}, WithInvalidator(inv))

	tests := []struct {
		name string
		body string
		want cache.Key
	}{
		{
			name: "explicit mode",
			body: `{"question":"What is the minimum wage?","mode":"medium","jurisdiction":"CA-ON"}`,
			want: cache.NewKey("What is the minimum wage?", "medium", "CA-ON"),
		},
		{
			name: "classified mode",
			body: `{"question":"What is the minimum wage?","jurisdiction":"ca-on"}`,
			want: cache.NewKey("what is the minimum wage?", "auto", "CA-ON"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv.keys = nil
			rec := do(t, s.Handler(), http.MethodPost, "/v1/cache/invalidate", tt.body)

			if rec.Code != http.StatusNoContent {
				t.Fatalf("Expected 204, got %d: %s", rec.Code, rec.Body.String())
			}
			if len(inv.keys) != 1 || inv.keys[0] != tt.want {
				t.Errorf("Expected key %s, got %v", tt.want, inv.keys)
			}
		})
	}
}

func TestInvalidate_NotMountedWithoutInvalidator(t *testing.T) {
	s := newTestServer(&fakeRouter{})

	rec := do(t, s.Handler(), http.MethodPost, "/v1/cache/invalidate", `{"question":"q"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	checker := health.New(time.Second)
	checker.RegisterCheck("counter_store", func(context.Context) error { return errors.New("locked") })
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "sextant_up 1\n")
	})
	s := newTestServer(&fakeRouter{},
		WithHealth(checker),
		WithMetrics("/metrics", metricsHandler),
		WithVersion("1.2.3", "abc", "today"),
	)
	h := s.Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"status"`},
		{"/readyz", http.StatusServiceUnavailable, "locked"},
		{"/metrics", http.StatusOK, "sextant_up 1"},
		{"/version", http.StatusOK, `"version":"1.2.3"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("Expected body containing %q, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeRouter{})

	rec := do(t, s.Handler(), http.MethodGet, "/v1/research", "")

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestRequestTimeoutReachesRouter(t *testing.T) {
	var deadline time.Time
	var ok bool
	r := routerFunc(func(ctx context.Context, q router.Query) (*router.Response, error) {
		deadline, ok = ctx.Deadline()
		return &router.Response{Answer: "ok"}, nil
	})
	s := newTestServer(r)

	do(t, s.Handler(), http.MethodPost, "/v1/research", `{"question":"q"}`)

	if !ok {
		t.Fatal("Expected a request deadline")
	}
	if time.Until(deadline) > 5*time.Second {
		t.Errorf("Expected deadline within 5s, got %s", time.Until(deadline))
	}
}

type routerFunc func(ctx context.Context, q router.Query) (*router.Response, error)

func (f routerFunc) Route(ctx context.Context, q router.Query) (*router.Response, error) {
	return f(ctx, q)
}

func TestStartAndStop(t *testing.T) {
	s := newTestServer(&fakeRouter{resp: &router.Response{Answer: "ok"}})

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Addr() == "" {
		t.Fatal("server did not start")
	}

	resp, err := http.Post("http://"+s.Addr()+"/v1/research", "application/json", strings.NewReader(`{"question":"q"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	if s.IsRunning() {
		t.Error("Expected server stopped")
	}
}

func TestStart_Twice(t *testing.T) {
	s := newTestServer(&fakeRouter{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	for !s.IsRunning() {
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Start(ctx); err == nil {
		t.Error("Expected error starting twice")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start() returned %v", err)
	}
}
