package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/sextant/pkg/cache"
	"mercator-hq/sextant/pkg/limits"
	"mercator-hq/sextant/pkg/telemetry/logging"
	"mercator-hq/sextant/pkg/telemetry/metrics"
	"mercator-hq/sextant/pkg/telemetry/tracing"
	"mercator-hq/sextant/pkg/workflow"
)

// Route outcomes used as the metrics label.
const (
	outcomeSuccess  = "success"
	outcomeCached   = "cached"
	outcomeDenied   = "denied"
	outcomeFailed   = "failed"
	outcomeDegraded = "degraded"
)

// ResponseCache is the part of *cache.Cache the router uses.
type ResponseCache interface {
	Get(ctx context.Context, key cache.Key) (*cache.Entry, bool)
	Set(ctx context.Context, key cache.Key, entry *cache.Entry, ttl time.Duration)
	TTLFor(text, mode string) time.Duration
}

// Admitter is the part of *limits.Limiter the router uses.
type Admitter interface {
	Admit(ctx context.Context, req limits.Request) (*limits.Reservation, limits.Decision)
	Commit(ctx context.Context, res *limits.Reservation, actual limits.Usage)
	Rollback(ctx context.Context, res *limits.Reservation)
}

// Executor runs a mode's graph.
type Executor interface {
	Execute(ctx context.Context, g *workflow.Graph, in workflow.Input) (*workflow.Run, error)
}

// Response is the answer to a routed query.
type Response struct {
	Answer string `json:"answer"`

	// Mode is the mode that produced the answer; RequestedMode is the mode
	// asked for (or classified). They differ after a cheaper-mode retry.
	Mode          string `json:"mode"`
	RequestedMode string `json:"requested_mode"`

	RunID       string         `json:"run_id,omitempty"`
	Cached      bool           `json:"cached"`
	Degraded    bool           `json:"degraded"`
	Partial     bool           `json:"partial"`
	Sources     []cache.Source `json:"sources"`
	StepsUsed   int            `json:"steps_used"`
	ToolsCalled []string       `json:"tools_called"`
	TokensUsed  int            `json:"tokens_used"`
	CreatedAt   time.Time      `json:"created_at"`

	// Steps is the audit trail of a fresh run; empty for cached answers.
	Steps []workflow.StepResult `json:"steps,omitempty"`
}

// Router classifies queries, serves cached answers, enforces admission and
// dispatches runs to the executor.
type Router struct {
	cache    ResponseCache
	limiter  Admitter
	executor Executor
	graphs   map[string]*workflow.Graph

	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	now     func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a router. A nil cache disables caching.
func New(c ResponseCache, limiter Admitter, executor Executor, graphs map[string]*workflow.Graph, opts ...Option) *Router {
	r := &Router{
		cache:    c,
		limiter:  limiter,
		executor: executor,
		graphs:   graphs,
		logger:   slog.Default().With("component", "router"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route answers q. A cache hit consumes no quota. On a miss the mode's
// worst-case cost is admitted, the graph is run, and the reservation is
// committed with actual usage (or rolled back on failure). A run that fails
// with empty_or_short_output is retried once on the next cheaper mode.
//
// Errors are *DeniedError (ErrQuotaDenied) or *WorkflowError
// (ErrWorkflowFailed).
func (r *Router) Route(ctx context.Context, q Query) (*Response, error) {
	start := r.now()
	ctx, span := r.tracer.Start(ctx, "router.route")

	mode := q.Mode()
	if mode == "" {
		mode = Classify(q.Text())
		r.metrics.RecordClassification(mode)
	}
	ctx = logging.WithMode(ctx, mode)

	resp, outcome, err := r.route(ctx, q, mode)

	runID := ""
	if resp != nil {
		runID = resp.RunID
	}
	tracing.SetRouteAttributes(span, mode, runID, outcome == outcomeCached)
	tracing.End(span, err)
	r.metrics.RecordRoute(mode, outcome, r.now().Sub(start))
	r.logger.InfoContext(ctx, "route finished",
		logging.Query(q.Text()),
		"outcome", outcome,
		"run_id", runID,
		"duration", r.now().Sub(start),
	)
	return resp, err
}

func (r *Router) route(ctx context.Context, q Query, mode string) (*Response, string, error) {
	if r.cache != nil {
		key := cache.NewKey(q.Text(), mode, q.Jurisdiction())
		if entry, ok := r.cache.Get(ctx, key); ok {
			r.logger.DebugContext(ctx, "cache hit", "key", key.Short())
			return fromEntry(entry, mode), outcomeCached, nil
		}
	}

	resp, err := r.execute(ctx, q, mode)
	if err == nil {
		return resp, outcomeSuccess, nil
	}
	var denied *DeniedError
	if errors.As(err, &denied) {
		return nil, outcomeDenied, err
	}

	var wfErr *WorkflowError
	cheaper := Cheaper(mode)
	if !errors.As(err, &wfErr) || wfErr.Kind != workflow.FailureShortOutput || cheaper == "" {
		return nil, outcomeFailed, err
	}

	r.logger.WarnContext(ctx, "retrying on cheaper mode", "from", mode, "to", cheaper, "run_id", wfErr.RunID)
	resp, retryErr := r.execute(ctx, q, cheaper)
	if retryErr != nil {
		if errors.As(retryErr, &denied) {
			// The retry could not be admitted; the original failure stands.
			return nil, outcomeFailed, err
		}
		return nil, outcomeFailed, retryErr
	}
	resp.RequestedMode = mode
	resp.Degraded = true
	return resp, outcomeDegraded, nil
}

// execute admits, runs and settles one run of mode, writing the answer to
// the cache under that mode's key.
func (r *Router) execute(ctx context.Context, q Query, mode string) (*Response, error) {
	g, ok := r.graphs[mode]
	if !ok {
		return nil, &WorkflowError{Mode: mode, Kind: "unknown_mode", Cause: workflow.ErrUnknownMode}
	}

	est := g.Estimate()
	reservation, decision := r.limiter.Admit(ctx, limits.Request{
		Tokens:          est.Tokens,
		SearchCalls:     est.SearchCalls,
		GenerationCalls: est.GenerationCalls,
	})
	if !decision.Allowed {
		return nil, &DeniedError{
			Mode:       mode,
			Reason:     decision.Reason,
			Resource:   string(decision.Resource),
			RetryAfter: decision.RetryAfter,
		}
	}

	run, err := r.executor.Execute(ctx, g, workflow.Input{
		Question:     q.Text(),
		Jurisdiction: q.Jurisdiction(),
		History:      q.History(),
	})
	if err != nil {
		r.limiter.Rollback(ctx, reservation)
		wfErr := &WorkflowError{Mode: mode, Kind: workflow.FailureCanceled, Cause: err}
		var runErr *workflow.RunError
		if errors.As(err, &runErr) {
			wfErr.RunID = runErr.RunID
			wfErr.Kind = runErr.Kind
		}
		return nil, wfErr
	}

	r.limiter.Commit(ctx, reservation, limits.Usage{
		Tokens:          int64(run.TotalTokens),
		SearchCalls:     int64(run.SearchCalls),
		GenerationCalls: int64(run.GenerationCalls),
	})

	resp := fromRun(run, mode, r.now())
	if r.cache != nil {
		key := cache.NewKey(q.Text(), mode, q.Jurisdiction())
		ttl := r.cache.TTLFor(q.Text(), mode)
		r.cache.Set(ctx, key, toEntry(resp, ttl), ttl)
	}
	return resp, nil
}

func fromRun(run *workflow.Run, mode string, now time.Time) *Response {
	sources := make([]cache.Source, 0, len(run.Passages)+len(run.WebResults))
	for _, p := range run.Passages {
		sources = append(sources, cache.Source{
			Kind:       "passage",
			ShardID:    p.ShardID,
			DocumentID: p.DocumentID,
			ChunkIndex: p.GlobalChunkIndex,
			Text:       p.Text,
			Score:      float64(p.Score),
			Resolved:   p.Resolved,
			Stale:      p.Stale,
		})
	}
	for _, w := range run.WebResults {
		sources = append(sources, cache.Source{
			Kind:     "web",
			Title:    w.Title,
			URL:      w.URL,
			Text:     w.Content,
			Score:    w.Score,
			Resolved: true,
		})
	}
	return &Response{
		Answer:        run.Answer,
		Mode:          mode,
		RequestedMode: mode,
		RunID:         run.ID,
		Degraded:      run.Degraded(),
		Partial:       run.Partial(),
		Sources:       sources,
		StepsUsed:     run.StepsUsed(),
		ToolsCalled:   run.Tools(),
		TokensUsed:    run.TotalTokens,
		CreatedAt:     now,
		Steps:         run.Steps,
	}
}

func toEntry(resp *Response, ttl time.Duration) *cache.Entry {
	return &cache.Entry{
		Response: resp.Answer,
		Metadata: cache.Metadata{
			Mode:          resp.Mode,
			StepsUsed:     resp.StepsUsed,
			ToolsCalled:   cache.ToolSet(resp.ToolsCalled...),
			TokenEstimate: resp.TokensUsed,
			Degraded:      resp.Degraded,
			Partial:       resp.Partial,
		},
		Sources:    resp.Sources,
		CreatedAt:  resp.CreatedAt,
		TTLSeconds: int64(ttl / time.Second),
	}
}

func fromEntry(e *cache.Entry, requested string) *Response {
	return &Response{
		Answer:        e.Response,
		Mode:          e.Metadata.Mode,
		RequestedMode: requested,
		Cached:        true,
		Degraded:      e.Metadata.Degraded,
		Partial:       e.Metadata.Partial,
		Sources:       e.Sources,
		StepsUsed:     e.Metadata.StepsUsed,
		ToolsCalled:   e.Metadata.ToolsCalled,
		TokensUsed:    e.Metadata.TokenEstimate,
		CreatedAt:     e.CreatedAt,
	}
}

// String summarizes a response for CLI output.
func (r *Response) String() string {
	state := "fresh"
	if r.Cached {
		state = "cached"
	}
	return fmt.Sprintf("%s (%s, %d steps, %d tokens)", r.Mode, state, r.StepsUsed, r.TokensUsed)
}
