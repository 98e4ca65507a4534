package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/search"
	"mercator-hq/sextant/pkg/tokens"
)

const wageAnswer = "The general minimum wage in Ontario is $17.20 per hour as of October 1, 2024, " +
	"set under the Employment Standards Act. Students under 18 and homeworkers have separate rates " +
	"published by the Ministry of Labour."

type fakeRetriever struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeRetriever) Retrieve(_ context.Context, texts []string, _ int, _ retrieval.Filter) []retrieval.Result {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.mu.Unlock()

	results := make([]retrieval.Result, len(texts))
	for i, t := range texts {
		results[i].Query = t
		if f.err != nil {
			results[i].Err = f.err
			continue
		}
		results[i].Passages = []retrieval.Passage{{
			ShardID:    "ca-on",
			DocumentID: "esa-2000",
			Text:       "Minimum wage: " + t,
			Resolved:   true,
		}}
	}
	return results
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) ([]search.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []search.Result{{Title: "Minimum wage", URL: "https://www.ontario.ca/wage", Content: "$17.20 per hour"}}, nil
}

type fakeGenerator struct {
	fn func(ctx context.Context, prompt string, maxTokens int) (string, int, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	return f.fn(ctx, prompt, maxTokens)
}

func answerWith(text string, used int) *fakeGenerator {
	return &fakeGenerator{fn: func(context.Context, string, int) (string, int, error) {
		return text, used, nil
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(r Retriever, s search.Searcher, g *fakeGenerator) *Executor {
	return NewExecutor(r, s, g, tokens.NewEstimator(4),
		WithLogger(quietLogger()),
		WithIDGenerator(func() string { return "run-1" }),
	)
}

func testGraphs(t *testing.T, modify func(m *config.ModesConfig)) map[string]*Graph {
	t.Helper()
	modes := config.DefaultModes()
	if modify != nil {
		modify(&modes)
	}
	graphs, err := DefaultGraphs(modes)
	if err != nil {
		t.Fatalf("DefaultGraphs() error = %v", err)
	}
	return graphs
}

func stepIDs(run *Run) []StepID {
	ids := make([]StepID, len(run.Steps))
	for i, s := range run.Steps {
		ids[i] = s.StepID
	}
	return ids
}

func equalIDs(a, b []StepID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExecute_AutoAnswers(t *testing.T) {
	graphs := testGraphs(t, nil)
	searcher := &fakeSearcher{}
	exec := newTestExecutor(&fakeRetriever{}, searcher, answerWith(wageAnswer, 42))

	run, err := exec.Execute(context.Background(), graphs[ModeAuto], Input{
		Question:     "What is the minimum wage in Ontario?",
		Jurisdiction: "CA-ON",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.ID != "run-1" || run.Mode != ModeAuto || run.Status != StatusSuccess {
		t.Errorf("Unexpected run header %s/%s/%s", run.ID, run.Mode, run.Status)
	}
	if want := []StepID{StepSearch, StepSynthesize}; !equalIDs(stepIDs(run), want) {
		t.Errorf("Expected steps %v, got %v", want, stepIDs(run))
	}
	for _, s := range run.Steps {
		if s.Status != StepOK {
			t.Errorf("Expected step %s ok, got %s (%s)", s.StepID, s.Status, s.Error)
		}
		if s.InputDigest == "" || len(s.InputDigest) != 12 {
			t.Errorf("Expected 12 hex input digest for %s, got %q", s.StepID, s.InputDigest)
		}
	}
	if run.TotalTokens != 42 {
		t.Errorf("Expected 42 tokens, got %d", run.TotalTokens)
	}
	if run.SearchCalls != 1 || run.GenerationCalls != 1 {
		t.Errorf("Expected 1 search and 1 generation call, got %d and %d", run.SearchCalls, run.GenerationCalls)
	}
	if run.Answer != wageAnswer {
		t.Errorf("Unexpected answer %q", run.Answer)
	}
	if len(run.Passages) != 1 || len(run.WebResults) != 1 {
		t.Errorf("Expected 1 passage and 1 web result, got %d and %d", len(run.Passages), len(run.WebResults))
	}
	tools := run.Tools()
	if len(tools) != 3 || tools[0] != ToolGeneration || tools[1] != ToolRetrieval || tools[2] != ToolWebSearch {
		t.Errorf("Unexpected tools %v", tools)
	}
	if run.Degraded() || run.Partial() {
		t.Error("Expected a clean run")
	}
}

func TestExecute_ShortOutputFails(t *testing.T) {
	graphs := testGraphs(t, nil)
	exec := newTestExecutor(&fakeRetriever{}, &fakeSearcher{}, answerWith("Yes.", 2))

	run, err := exec.Execute(context.Background(), graphs[ModeMedium], Input{Question: "Is it legal?"})
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("Expected ErrRunFailed, got %v", err)
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != FailureShortOutput {
		t.Errorf("Expected %s, got %v", FailureShortOutput, err)
	}
	if run == nil || run.Status != StatusFailed || run.FailureReason != FailureShortOutput {
		t.Errorf("Expected failed run, got %+v", run)
	}
	if run.TotalTokens != 4 {
		t.Errorf("Expected tokens of both generating steps, got %d", run.TotalTokens)
	}
}

func TestExecute_OverrunIsTruncatedAndRunContinues(t *testing.T) {
	graphs := testGraphs(t, nil)
	long := strings.Repeat("fact ", 20000)
	gen := &fakeGenerator{fn: func(_ context.Context, prompt string, maxTokens int) (string, int, error) {
		promptTokens := tokens.NewEstimator(4).EstimateText(prompt)
		if strings.Contains(prompt, "List the facts") {
			if maxTokens != 3000-promptTokens {
				t.Errorf("Expected extract completion cap %d, got %d", 3000-promptTokens, maxTokens)
			}
			return long, 4500, nil
		}
		if maxTokens != 5000-promptTokens {
			t.Errorf("Expected synthesize completion cap %d, got %d", 5000-promptTokens, maxTokens)
		}
		return wageAnswer, 100, nil
	}}
	exec := newTestExecutor(&fakeRetriever{}, &fakeSearcher{}, gen)

	run, err := exec.Execute(context.Background(), graphs[ModeMedium], Input{Question: "What is the minimum wage?"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	extract := run.Steps[1]
	if extract.Status != StepBudgetExceeded || extract.Error != ErrorBudgetExceeded {
		t.Errorf("Expected extract budget_exceeded, got %s/%q", extract.Status, extract.Error)
	}
	if extract.TokensUsed != 3000 {
		t.Errorf("Expected extract charged 3000, got %d", extract.TokensUsed)
	}
	if run.Steps[2].Status != StepOK {
		t.Errorf("Expected synthesize ok, got %s", run.Steps[2].Status)
	}
	if run.TotalTokens != 3100 {
		t.Errorf("Expected 3100 tokens, got %d", run.TotalTokens)
	}
}

func TestExecute_ZeroBudgetSkipsStep(t *testing.T) {
	g := &Graph{
		Mode:         ModeMedium,
		Nodes:        []Node{Step(StepSearch), Step(StepExtract), Step(StepSynthesize)},
		TokenCeiling: 3000,
		StepCeilings: map[StepID]int{StepExtract: 3000, StepSynthesize: 5000},
	}
	var synthCalls int
	gen := &fakeGenerator{fn: func(_ context.Context, prompt string, maxTokens int) (string, int, error) {
		if strings.Contains(prompt, "Write the final answer") {
			synthCalls++
		}
		return "notes", 3000, nil
	}}
	exec := newTestExecutor(&fakeRetriever{}, &fakeSearcher{}, gen)

	run, err := exec.Execute(context.Background(), g, Input{Question: "q"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	synth := run.Steps[2]
	if synth.Status != StepSkipped || synth.Error != ErrorBudgetExceeded {
		t.Errorf("Expected synthesize skipped with budget_exceeded, got %s/%q", synth.Status, synth.Error)
	}
	if synthCalls != 0 {
		t.Errorf("Expected no generation for a skipped step, got %d", synthCalls)
	}
	if run.TotalTokens > g.TokenCeiling {
		t.Errorf("Expected total within %d, got %d", g.TokenCeiling, run.TotalTokens)
	}
	if run.StepsUsed() != 2 {
		t.Errorf("Expected 2 steps used, got %d", run.StepsUsed())
	}
}

func researchGenerator(gaps ...string) *fakeGenerator {
	return &fakeGenerator{fn: func(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
		switch {
		case strings.Contains(prompt, "Write the final answer"):
			return wageAnswer, 200, nil
		case strings.Contains(prompt, "Open points"):
			return "Resolved: the rate applies to all adult employees.", 50, nil
		case strings.Contains(prompt, "unanswered"):
			text := "The sources establish the general rate."
			for _, g := range gaps {
				text += "\nGAP: " + g
			}
			return text, 80, nil
		}
		return "", 0, errors.New("unexpected prompt")
	}}
}

func TestExecute_DeepBranchesOnGaps(t *testing.T) {
	tests := []struct {
		name string
		gaps []string
		want []StepID
	}{
		{
			name: "few gaps enhance",
			gaps: []string{"student rate"},
			want: []StepID{StepResearch, StepEnhance, StepSynthesize},
		},
		{
			name: "many gaps fan out",
			gaps: []string{"student rate", "liquor servers", "homeworkers"},
			want: []StepID{StepResearch, StepDeepDive1, StepDeepDive2, StepSynthesize},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graphs := testGraphs(t, nil)
			exec := newTestExecutor(&fakeRetriever{}, &fakeSearcher{}, researchGenerator(tt.gaps...))

			run, err := exec.Execute(context.Background(), graphs[ModeDeep], Input{Question: "Compare minimum wage rules"})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if !equalIDs(stepIDs(run), tt.want) {
				t.Errorf("Expected steps %v, got %v", tt.want, stepIDs(run))
			}
			if run.TotalTokens > graphs[ModeDeep].TokenCeiling {
				t.Errorf("Expected total within ceiling, got %d", run.TotalTokens)
			}
		})
	}
}

func TestExecute_TimedOutBranchContributesNothing(t *testing.T) {
	graphs := testGraphs(t, func(m *config.ModesConfig) {
		m.Deep.BranchTimeout = 50 * time.Millisecond
	})
	base := researchGenerator("slow a", "fast b", "slow c", "fast d")
	gen := &fakeGenerator{fn: func(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
		if strings.Contains(prompt, "Open points") && strings.Contains(prompt, "- slow a") {
			<-ctx.Done()
			return "", 0, ctx.Err()
		}
		return base.fn(ctx, prompt, maxTokens)
	}}
	exec := newTestExecutor(&fakeRetriever{}, &fakeSearcher{}, gen)

	start := time.Now()
	run, err := exec.Execute(context.Background(), graphs[ModeDeep], Input{Question: "Compare minimum wage rules"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Expected the branch timeout to bound the run, took %s", time.Since(start))
	}

	dive1, dive2 := run.Steps[1], run.Steps[2]
	if dive1.StepID != StepDeepDive1 || dive1.Status != StepTimeout || dive1.Error != ErrorTimeout {
		t.Errorf("Expected deep_dive_1 timeout, got %s %s", dive1.StepID, dive1.Status)
	}
	if dive1.TokensUsed != 0 {
		t.Errorf("Expected no tokens from the timed-out branch, got %d", dive1.TokensUsed)
	}
	if dive2.Status != StepOK {
		t.Errorf("Expected deep_dive_2 ok, got %s", dive2.Status)
	}
	if !run.Degraded() {
		t.Error("Expected run marked degraded")
	}
}

func TestExecute_ParallelBranchesShareRunBudget(t *testing.T) {
	graphs := testGraphs(t, func(m *config.ModesConfig) {
		m.Deep.TokenCeiling = 10000
		m.Deep.MinOutputChars = 0
	})
	gen := &fakeGenerator{fn: func(_ context.Context, prompt string, maxTokens int) (string, int, error) {
		if strings.Contains(prompt, "unanswered") {
			return "summary\nGAP: a\nGAP: b\nGAP: c", maxTokens + tokens.NewEstimator(4).EstimateText(prompt), nil
		}
		return strings.Repeat("word ", 100), 100000, nil
	}}
	exec := newTestExecutor(&fakeRetriever{}, &fakeSearcher{}, gen)

	run, err := exec.Execute(context.Background(), graphs[ModeDeep], Input{Question: "q"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.TotalTokens != 10000 {
		t.Errorf("Expected exactly the 10000 ceiling spent, got %d", run.TotalTokens)
	}
	for _, s := range run.Steps[1:3] {
		if s.Status != StepBudgetExceeded {
			t.Errorf("Expected %s budget_exceeded, got %s", s.StepID, s.Status)
		}
	}
	if last := run.Steps[3]; last.StepID != StepSynthesize || last.Status != StepSkipped {
		t.Errorf("Expected synthesize skipped, got %s %s", last.StepID, last.Status)
	}
}

func TestExecute_UpstreamFailureDoesNotAbort(t *testing.T) {
	graphs := testGraphs(t, nil)
	retriever := &fakeRetriever{err: errors.New("qdrant unreachable")}
	searcher := &fakeSearcher{err: search.ErrUnavailable}
	exec := newTestExecutor(retriever, searcher, answerWith(wageAnswer, 30))

	run, err := exec.Execute(context.Background(), graphs[ModeAuto], Input{Question: "What is the minimum wage?"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Steps[0].Status != StepError {
		t.Errorf("Expected search step error, got %s", run.Steps[0].Status)
	}
	if !strings.Contains(run.Steps[0].Error, ErrUpstreamUnavailable.Error()) {
		t.Errorf("Expected upstream error, got %q", run.Steps[0].Error)
	}
	if run.Steps[1].Status != StepOK || !run.Degraded() {
		t.Error("Expected synthesize to run on a degraded run")
	}
	if run.SearchCalls != 1 {
		t.Errorf("Expected failed search still counted, got %d", run.SearchCalls)
	}
}

func TestExecute_DisabledSearchIsNotCounted(t *testing.T) {
	graphs := testGraphs(t, nil)
	exec := newTestExecutor(&fakeRetriever{}, nil, answerWith(wageAnswer, 30))

	run, err := exec.Execute(context.Background(), graphs[ModeAuto], Input{Question: "What is the minimum wage?"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.SearchCalls != 0 {
		t.Errorf("Expected no search calls, got %d", run.SearchCalls)
	}
	if run.Steps[0].Status != StepOK {
		t.Errorf("Expected search step ok on retrieval alone, got %s", run.Steps[0].Status)
	}
}

func TestExecute_WorkflowPlansSubQuestions(t *testing.T) {
	graphs := testGraphs(t, nil)
	base := researchGenerator("student rate")
	gen := &fakeGenerator{fn: func(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
		if strings.Contains(prompt, "Break the question") {
			return "1. What is the general rate?\n2. Which exceptions apply?\n\n", 20, nil
		}
		return base.fn(ctx, prompt, maxTokens)
	}}
	retriever := &fakeRetriever{}
	exec := newTestExecutor(retriever, &fakeSearcher{}, gen)

	run, err := exec.Execute(context.Background(), graphs[ModeWorkflow], Input{Question: "Explain minimum wage rules"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []StepID{StepPlan, StepResearch, StepEnhance, StepSynthesize}
	if !equalIDs(stepIDs(run), want) {
		t.Errorf("Expected steps %v, got %v", want, stepIDs(run))
	}
	if len(retriever.calls) == 0 || len(retriever.calls[0]) != 3 {
		t.Fatalf("Expected one batch of 3 texts, got %v", retriever.calls)
	}
	if retriever.calls[0][1] != "What is the general rate?" {
		t.Errorf("Expected list markers stripped, got %q", retriever.calls[0][1])
	}
}

func TestExecute_Canceled(t *testing.T) {
	graphs := testGraphs(t, nil)
	exec := newTestExecutor(&fakeRetriever{}, &fakeSearcher{}, answerWith(wageAnswer, 30))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, graphs[ModeAuto], Input{Question: "q"})
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != FailureCanceled {
		t.Fatalf("Expected canceled run, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled cause, got %v", err)
	}
}

func TestCompletionAllowance(t *testing.T) {
	tests := []struct {
		name         string
		budget       int
		promptTokens int
		want         int
	}{
		{"prompt fits", 3000, 400, 2600},
		{"empty prompt", 500, 0, 500},
		{"prompt fills budget", 300, 300, 1},
		{"prompt over budget", 300, 900, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := completionAllowance(tt.budget, tt.promptTokens); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}
