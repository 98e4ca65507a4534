package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/search"
)

// stepFunc implements one StepID. It reads the run state and returns what
// the executor merges back once the node completes. A returned error marks
// the step failed but whatever the output holds is still merged.
type stepFunc func(e *Executor, ctx context.Context, sc *stepCall) (stepOutput, error)

type stepSpec struct {
	// generates marks steps that call the generator and need a token budget.
	generates bool

	// searches is the worst-case number of web search calls.
	searches int

	run stepFunc
}

var stepSpecs = map[StepID]stepSpec{
	StepSearch:     {generates: false, searches: 1, run: (*Executor).stepSearch},
	StepExtract:    {generates: true, run: (*Executor).stepExtract},
	StepSynthesize: {generates: true, run: (*Executor).stepSynthesize},
	StepResearch:   {generates: true, searches: 1, run: (*Executor).stepResearch},
	StepEnhance:    {generates: true, searches: 1, run: (*Executor).stepEnhance},
	StepDeepDive1:  {generates: true, run: (*Executor).stepDeepDive},
	StepDeepDive2:  {generates: true, run: (*Executor).stepDeepDive},
	StepPlan:       {generates: true, run: (*Executor).stepPlan},
}

// stepCall is the input of one step execution.
type stepCall struct {
	graph  *Graph
	state  *State
	step   StepID
	budget int

	// lane and lanes place a step among its Parallel siblings.
	lane, lanes int
}

// stepOutput is merged into the run and its state after the node completes.
type stepOutput struct {
	prompt  string
	text    string
	tokens  int
	overrun bool

	searchCalls int
	genCalls    int
	tools       []string

	passages        []retrieval.Passage
	retrievalFailed int
	web             []search.Result
	findings        []string
	gaps            []string
	setGaps         bool
	subQuestions    []string
	answer          string
	setAnswer       bool
}

func (o *stepOutput) use(tool string) {
	for _, t := range o.tools {
		if t == tool {
			return
		}
	}
	o.tools = append(o.tools, tool)
}

// generate calls the generator with what is left of the step budget after
// the estimated prompt. Usage is billed prompt plus completion, so a response
// that reports more tokens than the budget is cut and flagged as overrun.
func (e *Executor) generate(ctx context.Context, sc *stepCall, prompt string, out *stepOutput) (string, error) {
	out.prompt = prompt
	out.genCalls++
	completion := completionAllowance(sc.budget, e.estimator.EstimateText(prompt))
	text, used, err := e.generator.Generate(ctx, prompt, completion)
	if err != nil {
		return "", fmt.Errorf("%w: generation: %w", ErrUpstreamUnavailable, err)
	}
	out.use(ToolGeneration)
	if used > sc.budget {
		text = e.estimator.Truncate(text, completion)
		used = sc.budget
		out.overrun = true
	}
	out.tokens += used
	out.text = text
	return text, nil
}

// completionAllowance is the completion cap left once the prompt is paid for.
// It never drops below one token so the call still returns something to cut.
func completionAllowance(budget, promptTokens int) int {
	return max(budget-promptTokens, 1)
}

// retrieve runs one retrieval batch. It fails only when every query failed.
func (e *Executor) retrieve(ctx context.Context, sc *stepCall, texts []string, out *stepOutput) error {
	if e.retriever == nil {
		return fmt.Errorf("%w: retrieval not configured", ErrUpstreamUnavailable)
	}
	out.use(ToolRetrieval)
	results := e.retriever.Retrieve(ctx, texts, sc.graph.TopK, retrieval.Filter{Jurisdiction: retrieval.NormalizeJurisdiction(sc.state.Input.Jurisdiction)})
	var lastErr error
	for _, r := range results {
		if r.Err != nil {
			out.retrievalFailed++
			lastErr = r.Err
			continue
		}
		out.passages = append(out.passages, r.Passages...)
	}
	if len(results) > 0 && out.retrievalFailed == len(results) {
		return fmt.Errorf("%w: retrieval: %w", ErrUpstreamUnavailable, lastErr)
	}
	return nil
}

// webSearch runs one web search. A disabled searcher is not a failure and
// does not count against the search quota.
func (e *Executor) webSearch(ctx context.Context, sc *stepCall, query, depth string, out *stepOutput) error {
	results, err := e.searcher.Search(ctx, search.Request{
		Query:      query,
		Depth:      depth,
		MaxResults: sc.graph.MaxSearchResults,
	})
	if errors.Is(err, search.ErrDisabled) {
		return nil
	}
	out.searchCalls++
	if err != nil {
		return fmt.Errorf("%w: web search: %w", ErrUpstreamUnavailable, err)
	}
	out.use(ToolWebSearch)
	out.web = append(out.web, results...)
	return nil
}

func (e *Executor) stepSearch(ctx context.Context, sc *stepCall) (stepOutput, error) {
	q := sc.state.Input.Question
	out := stepOutput{prompt: q}
	rerr := e.retrieve(ctx, sc, []string{q}, &out)
	serr := e.webSearch(ctx, sc, q, sc.graph.SearchDepth, &out)
	out.text = fmt.Sprintf("%d passages, %d web results", len(out.passages), len(out.web))

	switch {
	case rerr != nil && serr != nil:
		return out, errors.Join(rerr, serr)
	case rerr != nil && len(out.web) == 0:
		return out, rerr
	}
	if serr != nil {
		e.logger.WarnContext(ctx, "web search failed, continuing on retrieval", "error", serr)
	}
	if rerr != nil {
		e.logger.WarnContext(ctx, "retrieval failed, continuing on web results", "error", rerr)
	}
	return out, nil
}

func (e *Executor) stepExtract(ctx context.Context, sc *stepCall) (stepOutput, error) {
	var out stepOutput
	text, err := e.generate(ctx, sc, extractPrompt(sc.state, e.estimator), &out)
	if err != nil {
		return out, err
	}
	if text = strings.TrimSpace(text); text != "" {
		out.findings = []string{text}
	}
	return out, nil
}

func (e *Executor) stepPlan(ctx context.Context, sc *stepCall) (stepOutput, error) {
	var out stepOutput
	text, err := e.generate(ctx, sc, planPrompt(sc.state), &out)
	if err != nil {
		return out, err
	}
	out.subQuestions = parseSubQuestions(text)
	return out, nil
}

func (e *Executor) stepResearch(ctx context.Context, sc *stepCall) (stepOutput, error) {
	s := sc.state
	var out stepOutput

	texts := append([]string{s.Input.Question}, s.SubQuestions...)
	rerr := e.retrieve(ctx, sc, texts, &out)
	serr := e.webSearch(ctx, sc, s.Input.Question, search.DepthAdvanced, &out)
	if rerr != nil && serr != nil {
		return out, errors.Join(rerr, serr)
	}

	// The prompt needs the sources gathered above, so build it on a view of
	// the state that already includes them.
	view := *s
	view.Passages = append(append([]retrieval.Passage(nil), s.Passages...), out.passages...)
	view.WebResults = append(append([]search.Result(nil), s.WebResults...), out.web...)

	text, err := e.generate(ctx, sc, researchPrompt(&view, e.estimator), &out)
	if err != nil {
		return out, err
	}
	summary, gaps := parseGaps(text)
	if summary != "" {
		out.findings = []string{summary}
	}
	out.gaps = gaps
	out.setGaps = true
	return out, nil
}

func (e *Executor) stepEnhance(ctx context.Context, sc *stepCall) (stepOutput, error) {
	s := sc.state
	var out stepOutput

	view := *s
	if len(s.Gaps) > 0 {
		query := s.Input.Question + " " + strings.Join(s.Gaps, " ")
		if err := e.webSearch(ctx, sc, query, search.DepthBasic, &out); err != nil {
			e.logger.WarnContext(ctx, "gap search failed", "error", err)
		}
		view.WebResults = append(append([]search.Result(nil), s.WebResults...), out.web...)
	}

	text, err := e.generate(ctx, sc, gapPrompt(&view, s.Gaps, e.estimator), &out)
	if err != nil {
		return out, err
	}
	if text = strings.TrimSpace(text); text != "" {
		out.findings = []string{text}
	}
	return out, nil
}

// stepDeepDive researches the gaps assigned to its lane: gap i goes to lane
// i mod lanes.
func (e *Executor) stepDeepDive(ctx context.Context, sc *stepCall) (stepOutput, error) {
	s := sc.state
	var out stepOutput

	var gaps []string
	for i, g := range s.Gaps {
		if i%sc.lanes == sc.lane {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		return out, nil
	}

	if err := e.retrieve(ctx, sc, gaps, &out); err != nil {
		e.logger.WarnContext(ctx, "deep dive retrieval failed", "step", sc.step, "error", err)
	}
	view := *s
	view.Passages = append(append([]retrieval.Passage(nil), out.passages...), s.Passages...)

	text, err := e.generate(ctx, sc, gapPrompt(&view, gaps, e.estimator), &out)
	if err != nil {
		return out, err
	}
	if text = strings.TrimSpace(text); text != "" {
		out.findings = []string{text}
	}
	return out, nil
}

func (e *Executor) stepSynthesize(ctx context.Context, sc *stepCall) (stepOutput, error) {
	var out stepOutput
	text, err := e.generate(ctx, sc, synthesizePrompt(sc.state, e.estimator), &out)
	if err != nil {
		return out, err
	}
	out.answer = strings.TrimSpace(text)
	out.setAnswer = true
	return out, nil
}
