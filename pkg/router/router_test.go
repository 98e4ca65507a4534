package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mercator-hq/sextant/pkg/cache"
	"mercator-hq/sextant/pkg/cache/store"
	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/limits"
	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/search"
	"mercator-hq/sextant/pkg/tokens"
	"mercator-hq/sextant/pkg/workflow"
)

const wageAnswer = "The general minimum wage in Ontario is $17.20 per hour."

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRetriever struct{}

func (fakeRetriever) Retrieve(_ context.Context, texts []string, _ int, _ retrieval.Filter) []retrieval.Result {
	results := make([]retrieval.Result, len(texts))
	for i, t := range texts {
		results[i] = retrieval.Result{Query: t, Passages: []retrieval.Passage{{
			ShardID:          "ca-on",
			DocumentID:       "esa-2000",
			GlobalChunkIndex: 150925,
			Text:             "The minimum wage is $17.20 per hour.",
			Resolved:         true,
		}}}
	}
	return results
}

// recordingRetriever answers like fakeRetriever and keeps every filter it saw.
type recordingRetriever struct {
	mu      sync.Mutex
	filters []retrieval.Filter
}

func (r *recordingRetriever) Retrieve(ctx context.Context, texts []string, topK int, f retrieval.Filter) []retrieval.Result {
	r.mu.Lock()
	r.filters = append(r.filters, f)
	r.mu.Unlock()
	return fakeRetriever{}.Retrieve(ctx, texts, topK, f)
}

func (r *recordingRetriever) Filters() []retrieval.Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]retrieval.Filter(nil), r.filters...)
}

type fakeSearcher struct{}

func (fakeSearcher) Search(context.Context, search.Request) ([]search.Result, error) {
	return []search.Result{{Title: "Minimum wage", URL: "https://www.ontario.ca/wage", Content: "$17.20"}}, nil
}

type countingGenerator struct {
	mu    sync.Mutex
	calls int
}

func (g *countingGenerator) Generate(context.Context, string, int) (string, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return wageAnswer, 42, nil
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testLimits() limits.Limits {
	return limits.Limits{
		Threshold:         0.8,
		TokensPerMinute:   10000,
		TokensPerDay:      1000000,
		RequestsPerMinute: 100,
		SearchPerMinute:   100,
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	backend := store.NewMemoryStore(100)
	t.Cleanup(func() { backend.Close() })
	cfg := config.NewDefaultConfig()
	return cache.New(backend, cache.PolicyFromConfig(cfg.Cache, cfg.Modes), cache.WithLogger(quietLogger()))
}

func testGraphs(t *testing.T, modify func(*config.ModesConfig)) map[string]*workflow.Graph {
	t.Helper()
	modes := config.DefaultModes()
	if modify != nil {
		modify(&modes)
	}
	graphs, err := workflow.DefaultGraphs(modes)
	if err != nil {
		t.Fatalf("DefaultGraphs() error = %v", err)
	}
	return graphs
}

func usage(l *limits.Limiter, r limits.Resource) int64 {
	for _, s := range l.Status(context.Background()) {
		if s.Resource == r {
			return s.Count
		}
	}
	return -1
}

func mustQuery(t *testing.T, text, mode, jurisdiction string) Query {
	t.Helper()
	q, err := NewQuery(text, mode, jurisdiction, nil)
	if err != nil {
		t.Fatalf("NewQuery() error = %v", err)
	}
	return q
}

func TestRoute_MinimumWageServedFromCacheSecondTime(t *testing.T) {
	gen := &countingGenerator{}
	exec := workflow.NewExecutor(fakeRetriever{}, fakeSearcher{}, gen, tokens.NewEstimator(4), workflow.WithLogger(quietLogger()))
	limiter := limits.NewLimiter(testLimits(), nil, limits.WithLogger(quietLogger()))
	r := New(newTestCache(t), limiter, exec, testGraphs(t, nil), WithLogger(quietLogger()))

	first, err := r.Route(context.Background(), mustQuery(t, "What is the minimum wage in Ontario?", ModeAuto, "CA-ON"))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if first.Cached {
		t.Error("Expected first answer to be fresh")
	}
	if first.Answer != wageAnswer || first.Mode != ModeAuto {
		t.Errorf("Unexpected response %+v", first)
	}
	if len(first.Sources) != 2 || first.Sources[0].ChunkIndex != 150925 {
		t.Errorf("Expected passage and web sources, got %+v", first.Sources)
	}
	if got := usage(limiter, limits.ResourceTokensPerMinute); got != 42 {
		t.Errorf("Expected 42 tokens committed, got %d", got)
	}
	if got := usage(limiter, limits.ResourceSearchPerMinute); got != 1 {
		t.Errorf("Expected 1 search committed, got %d", got)
	}

	second, err := r.Route(context.Background(), mustQuery(t, "  what is the MINIMUM wage   in ontario? ", ModeAuto, "ca-on"))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if !second.Cached {
		t.Error("Expected second answer from cache")
	}
	if second.Answer != first.Answer {
		t.Errorf("Expected cached answer %q, got %q", first.Answer, second.Answer)
	}
	if gen.Calls() != 1 {
		t.Errorf("Expected one generation, got %d", gen.Calls())
	}
	if got := usage(limiter, limits.ResourceTokensPerMinute); got != 42 {
		t.Errorf("Expected cached answer to consume no quota, got %d", got)
	}
	if len(second.ToolsCalled) != 3 || second.StepsUsed != 2 {
		t.Errorf("Expected metadata from the cache entry, got %+v", second)
	}
}

func TestRoute_JurisdictionCasingSharesCacheEntryAndFilter(t *testing.T) {
	retriever := &recordingRetriever{}
	gen := &countingGenerator{}
	exec := workflow.NewExecutor(retriever, fakeSearcher{}, gen, tokens.NewEstimator(4), workflow.WithLogger(quietLogger()))
	limiter := limits.NewLimiter(testLimits(), nil, limits.WithLogger(quietLogger()))
	r := New(newTestCache(t), limiter, exec, testGraphs(t, nil), WithLogger(quietLogger()))

	const question = "What is the minimum wage?"
	if _, err := r.Route(context.Background(), mustQuery(t, question, ModeAuto, "ON")); err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	second, err := r.Route(context.Background(), mustQuery(t, question, ModeAuto, "on"))
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if !second.Cached || gen.Calls() != 1 {
		t.Errorf("Expected \"on\" to hit the entry written for \"ON\", cached=%v generations=%d", second.Cached, gen.Calls())
	}

	// Without a cache both casings reach retrieval; the filters must match.
	uncached := New(nil, limits.NewLimiter(testLimits(), nil, limits.WithLogger(quietLogger())), exec, testGraphs(t, nil), WithLogger(quietLogger()))
	for _, j := range []string{"ON", " on "} {
		if _, err := uncached.Route(context.Background(), mustQuery(t, question, ModeAuto, j)); err != nil {
			t.Fatalf("Route(%q) error = %v", j, err)
		}
	}

	filters := retriever.Filters()
	if len(filters) < 3 {
		t.Fatalf("Expected retrieval on every executed run, got %d filters", len(filters))
	}
	for i, f := range filters {
		if f.Jurisdiction != "on" {
			t.Errorf("Expected filter %d jurisdiction %q, got %q", i, "on", f.Jurisdiction)
		}
	}
}

func TestRoute_DeniedAt82PercentConsumesNothing(t *testing.T) {
	limiter := limits.NewLimiter(testLimits(), nil, limits.WithLogger(quietLogger()))
	res, decision := limiter.Admit(context.Background(), limits.Request{Tokens: 7000})
	if !decision.Allowed {
		t.Fatalf("Expected setup admission, got %+v", decision)
	}
	limiter.Commit(context.Background(), res, limits.Usage{Tokens: 8200})

	exec := &scriptedExecutor{}
	graphs := testGraphs(t, func(m *config.ModesConfig) {
		m.Auto.TokenCeiling = 1300
		m.Auto.StepCeilings = map[string]int{"synthesize": 1300}
	})
	c := newTestCache(t)
	r := New(c, limiter, exec, graphs, WithLogger(quietLogger()))

	q := mustQuery(t, "What is the minimum wage?", ModeAuto, "")
	_, err := r.Route(context.Background(), q)
	if !errors.Is(err, ErrQuotaDenied) {
		t.Fatalf("Expected ErrQuotaDenied, got %v", err)
	}
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Expected *DeniedError, got %T", err)
	}
	if denied.Reason != limits.ReasonRateLimit || denied.Resource != string(limits.ResourceTokensPerMinute) {
		t.Errorf("Unexpected denial %+v", denied)
	}
	if denied.RetryAfter <= 0 || denied.RetryAfter > time.Minute {
		t.Errorf("Expected retry within the minute, got %s", denied.RetryAfter)
	}
	if len(exec.Calls()) != 0 {
		t.Errorf("Expected no execution, got %v", exec.Calls())
	}
	if got := usage(limiter, limits.ResourceTokensPerMinute); got != 8200 {
		t.Errorf("Expected usage unchanged at 8200, got %d", got)
	}
	if _, ok := c.Get(context.Background(), cache.NewKey(q.Text(), ModeAuto, "")); ok {
		t.Error("Expected no cache entry after denial")
	}
}

type scriptedExecutor struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]string
}

func (e *scriptedExecutor) Execute(_ context.Context, g *workflow.Graph, _ workflow.Input) (*workflow.Run, error) {
	e.mu.Lock()
	e.calls = append(e.calls, g.Mode)
	e.mu.Unlock()

	run := &workflow.Run{ID: "run-" + g.Mode, Mode: g.Mode}
	if kind, ok := e.fail[g.Mode]; ok {
		run.Status = workflow.StatusFailed
		run.FailureReason = kind
		run.TotalTokens = 900
		return run, &workflow.RunError{RunID: run.ID, Mode: g.Mode, Kind: kind}
	}
	run.Status = workflow.StatusSuccess
	run.Answer = wageAnswer + " (" + g.Mode + ")"
	run.TotalTokens = 500
	run.GenerationCalls = 2
	run.SearchCalls = 1
	return run, nil
}

func (e *scriptedExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type denyingAdmitter struct {
	*limits.Limiter
	denyTokens int64
}

func (a denyingAdmitter) Admit(ctx context.Context, req limits.Request) (*limits.Reservation, limits.Decision) {
	if req.Tokens == a.denyTokens {
		return nil, limits.Decision{Resource: limits.ResourceTokensPerMinute, Reason: limits.ReasonRateLimit, RetryAfter: time.Second}
	}
	return a.Limiter.Admit(ctx, req)
}

func TestRoute_RetriesShortOutputOnCheaperMode(t *testing.T) {
	limiter := limits.NewLimiter(limits.Limits{
		Threshold: 0.8, TokensPerMinute: 100000, TokensPerDay: 1000000, RequestsPerMinute: 100, SearchPerMinute: 100,
	}, nil, limits.WithLogger(quietLogger()))
	exec := &scriptedExecutor{fail: map[string]string{ModeDeep: workflow.FailureShortOutput}}
	c := newTestCache(t)
	r := New(c, limiter, exec, testGraphs(t, nil), WithLogger(quietLogger()))

	q := mustQuery(t, "Compare minimum wage rules across provinces", "", "")
	resp, err := r.Route(context.Background(), q)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}

	if calls := exec.Calls(); len(calls) != 2 || calls[0] != ModeDeep || calls[1] != ModeMedium {
		t.Errorf("Expected deep then medium, got %v", calls)
	}
	if resp.Mode != ModeMedium || resp.RequestedMode != ModeDeep || !resp.Degraded {
		t.Errorf("Expected degraded medium answer for deep request, got %+v", resp)
	}
	if got := usage(limiter, limits.ResourceTokensPerMinute); got != 500 {
		t.Errorf("Expected only the retry's 500 tokens, got %d", got)
	}
	if _, ok := c.Get(context.Background(), cache.NewKey(q.Text(), ModeMedium, "")); !ok {
		t.Error("Expected the answer cached under the mode that produced it")
	}
	if _, ok := c.Get(context.Background(), cache.NewKey(q.Text(), ModeDeep, "")); ok {
		t.Error("Expected no entry under the failed mode")
	}
}

func TestRoute_FailureHandling(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		fail      map[string]string
		denyRetry bool
		wantCalls []string
		wantMode  string
		wantKind  string
	}{
		{
			name:      "second failure surfaces",
			mode:      ModeMedium,
			fail:      map[string]string{ModeMedium: workflow.FailureShortOutput, ModeAuto: workflow.FailureShortOutput},
			wantCalls: []string{ModeMedium, ModeAuto},
			wantMode:  ModeAuto,
			wantKind:  workflow.FailureShortOutput,
		},
		{
			name:      "auto has no cheaper mode",
			mode:      ModeAuto,
			fail:      map[string]string{ModeAuto: workflow.FailureShortOutput},
			wantCalls: []string{ModeAuto},
			wantMode:  ModeAuto,
			wantKind:  workflow.FailureShortOutput,
		},
		{
			name:      "cancellation is not retried",
			mode:      ModeDeep,
			fail:      map[string]string{ModeDeep: workflow.FailureCanceled},
			wantCalls: []string{ModeDeep},
			wantMode:  ModeDeep,
			wantKind:  workflow.FailureCanceled,
		},
		{
			name:      "denied retry keeps the original failure",
			mode:      ModeDeep,
			fail:      map[string]string{ModeDeep: workflow.FailureShortOutput},
			denyRetry: true,
			wantCalls: []string{ModeDeep},
			wantMode:  ModeDeep,
			wantKind:  workflow.FailureShortOutput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := limits.NewLimiter(limits.Limits{
				Threshold: 0.8, TokensPerMinute: 100000, TokensPerDay: 1000000, RequestsPerMinute: 100, SearchPerMinute: 100,
			}, nil, limits.WithLogger(quietLogger()))
			var admitter Admitter = limiter
			if tt.denyRetry {
				admitter = denyingAdmitter{Limiter: limiter, denyTokens: 8000}
			}
			exec := &scriptedExecutor{fail: tt.fail}
			r := New(newTestCache(t), admitter, exec, testGraphs(t, nil), WithLogger(quietLogger()))

			_, err := r.Route(context.Background(), mustQuery(t, "Explain the minimum wage", tt.mode, ""))
			if !errors.Is(err, ErrWorkflowFailed) {
				t.Fatalf("Expected ErrWorkflowFailed, got %v", err)
			}
			var wfErr *WorkflowError
			if !errors.As(err, &wfErr) || wfErr.Mode != tt.wantMode || wfErr.Kind != tt.wantKind {
				t.Errorf("Expected %s/%s failure, got %v", tt.wantMode, tt.wantKind, err)
			}
			calls := exec.Calls()
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("Expected calls %v, got %v", tt.wantCalls, calls)
			}
			for i := range calls {
				if calls[i] != tt.wantCalls[i] {
					t.Errorf("Expected calls %v, got %v", tt.wantCalls, calls)
				}
			}
			if got := usage(limiter, limits.ResourceTokensPerMinute); got != 0 {
				t.Errorf("Expected every reservation rolled back, got %d", got)
			}
		})
	}
}

func TestRoute_NilCache(t *testing.T) {
	limiter := limits.NewLimiter(testLimits(), nil, limits.WithLogger(quietLogger()))
	exec := &scriptedExecutor{}
	r := New(nil, limiter, exec, testGraphs(t, nil), WithLogger(quietLogger()))

	q := mustQuery(t, "What is the minimum wage?", ModeAuto, "")
	for range 2 {
		if _, err := r.Route(context.Background(), q); err != nil {
			t.Fatalf("Route() error = %v", err)
		}
	}
	if len(exec.Calls()) != 2 {
		t.Errorf("Expected every call executed without a cache, got %v", exec.Calls())
	}
}
