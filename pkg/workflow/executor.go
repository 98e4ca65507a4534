package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"mercator-hq/sextant/pkg/providers"
	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/search"
	"mercator-hq/sextant/pkg/telemetry/logging"
	"mercator-hq/sextant/pkg/telemetry/metrics"
	"mercator-hq/sextant/pkg/telemetry/tracing"
	"mercator-hq/sextant/pkg/tokens"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MaxFanOut bounds the branches of a Parallel node running at once.
const MaxFanOut = 2

// Retriever is the slice of retrieval.Service the executor needs.
type Retriever interface {
	Retrieve(ctx context.Context, texts []string, topK int, filter retrieval.Filter) []retrieval.Result
}

// Executor interprets step graphs. It holds no per-run state and is safe
// for concurrent use.
type Executor struct {
	retriever Retriever
	searcher  search.Searcher
	generator providers.Generator
	estimator *tokens.Estimator

	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	newID   func() string
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) { e.newID = fn }
}

// NewExecutor creates an executor. A nil searcher behaves like
// search.Disabled; a nil estimator uses the default ratio.
func NewExecutor(retriever Retriever, searcher search.Searcher, generator providers.Generator, estimator *tokens.Estimator, opts ...Option) *Executor {
	if searcher == nil {
		searcher = search.Disabled{}
	}
	if estimator == nil {
		estimator = tokens.NewEstimator(tokens.DefaultCharsPerToken)
	}
	e := &Executor{
		retriever: retriever,
		searcher:  searcher,
		generator: generator,
		estimator: estimator,
		logger:    slog.Default().With("component", "workflow"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// tokenBudget is the remaining run budget. Steps reserve their budget up
// front and release what they did not use, so concurrent branches can never
// spend more than the run ceiling together.
type tokenBudget struct {
	mu        sync.Mutex
	remaining int
}

func (b *tokenBudget) reserve(ceiling int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := max(min(ceiling, b.remaining), 0)
	b.remaining -= n
	return n
}

func (b *tokenBudget) release(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.remaining += n
	b.mu.Unlock()
}

// outcome is one step's audit record plus the output to merge.
type outcome struct {
	result StepResult
	out    stepOutput
}

// Execute runs g to completion. Step failures never abort the run; the run
// fails only when the final answer is shorter than the mode minimum or the
// context is canceled. The returned Run is non-nil in both cases.
func (e *Executor) Execute(ctx context.Context, g *Graph, in Input) (*Run, error) {
	run := &Run{
		ID:        e.newID(),
		Mode:      g.Mode,
		Status:    StatusRunning,
		StartedAt: e.now(),
		tools:     make(map[string]struct{}),
	}
	ctx = logging.WithRunID(ctx, run.ID)
	ctx = logging.WithMode(ctx, g.Mode)
	e.transition(ctx, "pending")

	state := &State{Input: in}
	budget := &tokenBudget{remaining: g.TokenCeiling}

	for _, n := range g.Nodes {
		if ctx.Err() != nil {
			break
		}
		for _, o := range e.runNode(ctx, g, state, budget, n, 0, 1) {
			e.merge(run, state, o)
		}
	}

	run.Answer = state.Answer
	run.Passages = state.Passages
	run.WebResults = state.WebResults
	run.Elapsed = e.now().Sub(run.StartedAt)

	switch {
	case ctx.Err() != nil:
		return e.fail(ctx, run, FailureCanceled, ctx.Err())
	case utf8.RuneCountInString(strings.TrimSpace(run.Answer)) < g.MinOutputChars:
		return e.fail(ctx, run, FailureShortOutput, nil)
	}

	run.Status = StatusSuccess
	e.transition(ctx, StatusSuccess)
	e.logger.InfoContext(ctx, "run finished",
		logging.Query(in.Question),
		"status", run.Status,
		"steps", len(run.Steps),
		"total_tokens", run.TotalTokens,
		"degraded", run.Degraded(),
		"elapsed", run.Elapsed,
	)
	return run, nil
}

func (e *Executor) fail(ctx context.Context, run *Run, kind string, cause error) (*Run, error) {
	run.Status = StatusFailed
	run.FailureReason = kind
	e.transition(ctx, StatusFailed, "reason", kind)
	e.logger.WarnContext(ctx, "run failed",
		"reason", kind,
		"steps", len(run.Steps),
		"total_tokens", run.TotalTokens,
		"answer_chars", utf8.RuneCountInString(run.Answer),
		"elapsed", run.Elapsed,
	)
	return run, &RunError{RunID: run.ID, Mode: run.Mode, Kind: kind, Cause: cause}
}

func (e *Executor) transition(ctx context.Context, to string, args ...any) {
	e.logger.DebugContext(ctx, "run state", append([]any{"state", to}, args...)...)
}

// runNode executes one node. Steps under a Parallel only read the state;
// every outcome is merged by Execute after the node returns.
func (e *Executor) runNode(ctx context.Context, g *Graph, state *State, budget *tokenBudget, n Node, lane, lanes int) []outcome {
	switch n.Kind {
	case NodeStep:
		return []outcome{e.runStep(ctx, g, state, budget, n.Step, lane, lanes)}

	case NodeBranch:
		side, taken := n.Else, n.Else.Label()
		if n.Predicate(state) {
			side, taken = n.Then, n.Then.Label()
		}
		e.transition(ctx, "branch_evaluated", "branch", n.Name, "taken", taken, "gaps", len(state.Gaps))
		e.metrics.RecordBranch(g.Mode, taken)
		return e.runNode(ctx, g, state, budget, *side, lane, lanes)

	case NodeParallel:
		results := make([][]outcome, len(n.Children))
		var grp errgroup.Group
		grp.SetLimit(MaxFanOut)
		for i, child := range n.Children {
			grp.Go(func() error {
				bctx, cancel := withTimeout(ctx, g.BranchTimeout)
				defer cancel()
				results[i] = e.runNode(bctx, g, state, budget, child, i, len(n.Children))
				return nil
			})
		}
		_ = grp.Wait()

		var all []outcome
		for _, r := range results {
			all = append(all, r...)
		}
		return all
	}

	e.logger.ErrorContext(ctx, "unknown node kind", "kind", n.Kind)
	return nil
}

func (e *Executor) runStep(ctx context.Context, g *Graph, state *State, budget *tokenBudget, id StepID, lane, lanes int) outcome {
	spec := stepSpecs[id]
	start := e.now()
	res := StepResult{StepID: id}

	stepBudget := 0
	if spec.generates {
		stepBudget = budget.reserve(g.Ceiling(id))
		if stepBudget == 0 {
			res.Status = StepSkipped
			res.Error = ErrorBudgetExceeded
			e.transition(ctx, "skipped("+string(id)+")", "error", res.Error)
			e.metrics.RecordStep(g.Mode, string(id), res.Status, 0, 0)
			return outcome{result: res}
		}
	}
	res.Budget = stepBudget

	sctx, cancel := withTimeout(ctx, g.StepTimeout)
	defer cancel()
	sctx, span := e.tracer.Start(sctx, "workflow.step")
	e.transition(ctx, "running("+string(id)+")", "budget", stepBudget)

	out, err := spec.run(e, sctx, &stepCall{
		graph:  g,
		state:  state,
		step:   id,
		budget: stepBudget,
		lane:   lane,
		lanes:  lanes,
	})
	budget.release(stepBudget - out.tokens)

	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded)):
		res.Status = StepTimeout
		res.Error = ErrorTimeout
		// A timed-out step contributes nothing but the calls it made.
		out = stepOutput{prompt: out.prompt, tokens: out.tokens, searchCalls: out.searchCalls, genCalls: out.genCalls}
	case err != nil:
		res.Status = StepError
		res.Error = err.Error()
	case out.overrun:
		res.Status = StepBudgetExceeded
		res.Error = ErrorBudgetExceeded
		err = ErrStepBudgetExceeded
	default:
		res.Status = StepOK
	}

	elapsed := e.now().Sub(start)
	res.TokensUsed = out.tokens
	res.ElapsedMs = elapsed.Milliseconds()
	res.InputDigest = digest(out.prompt)
	res.OutputDigest = digest(out.text)

	tracing.SetStepAttributes(span, string(id), stepBudget, out.tokens, res.Status)
	tracing.End(span, err)
	e.metrics.RecordStep(g.Mode, string(id), res.Status, out.tokens, elapsed)
	e.logger.DebugContext(ctx, "step finished",
		"step", id,
		"status", res.Status,
		"budget", stepBudget,
		"tokens_used", out.tokens,
		"elapsed", elapsed,
		"error", res.Error,
	)
	return outcome{result: res, out: out}
}

// merge folds one outcome into the run and its state.
func (e *Executor) merge(run *Run, state *State, o outcome) {
	out := o.out
	run.Steps = append(run.Steps, o.result)
	run.TotalTokens += out.tokens
	run.SearchCalls += out.searchCalls
	run.GenerationCalls += out.genCalls
	for _, t := range out.tools {
		run.tools[t] = struct{}{}
	}

	state.Passages = mergePassages(state.Passages, out.passages)
	state.WebResults = mergeWeb(state.WebResults, out.web)
	state.RetrievalFailed += out.retrievalFailed
	state.Findings = append(state.Findings, out.findings...)
	if out.setGaps {
		state.Gaps = out.gaps
	}
	if len(out.subQuestions) > 0 {
		state.SubQuestions = out.subQuestions
	}
	if out.setAnswer {
		state.Answer = out.answer
	}
}

func mergePassages(dst, src []retrieval.Passage) []retrieval.Passage {
	type key struct {
		shard, doc string
		rank       int64
	}
	seen := make(map[key]struct{}, len(dst))
	for _, p := range dst {
		seen[key{p.ShardID, p.DocumentID, p.LocalChunkIndex}] = struct{}{}
	}
	for _, p := range src {
		k := key{p.ShardID, p.DocumentID, p.LocalChunkIndex}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		dst = append(dst, p)
	}
	return dst
}

func mergeWeb(dst, src []search.Result) []search.Result {
	seen := make(map[string]struct{}, len(dst))
	for _, r := range dst {
		seen[r.URL] = struct{}{}
	}
	for _, r := range src {
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		dst = append(dst, r)
	}
	return dst
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
