package router

import (
	"fmt"
	"slices"
	"strings"

	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/workflow"
)

// MaxHistoryTurns is the number of most recent turns a Query keeps.
const MaxHistoryTurns = 5

// ModeAuto and friends are the accepted mode names. An empty mode asks the
// router to classify the question.
const (
	ModeAuto     = workflow.ModeAuto
	ModeMedium   = workflow.ModeMedium
	ModeDeep     = workflow.ModeDeep
	ModeWorkflow = workflow.ModeWorkflow
)

// Query is an immutable research question.
type Query struct {
	text         string
	mode         string
	jurisdiction string
	history      []workflow.Turn
}

// NewQuery validates and copies its input. History is cut to the
// MaxHistoryTurns most recent turns.
func NewQuery(text, mode, jurisdiction string, history []workflow.Turn) (Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Query{}, fmt.Errorf("%w: empty question", ErrInvalidQuery)
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != "" && !slices.Contains(workflow.Modes, mode) {
		return Query{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, mode)
	}
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	return Query{
		text:         text,
		mode:         mode,
		jurisdiction: retrieval.NormalizeJurisdiction(jurisdiction),
		history:      slices.Clone(history),
	}, nil
}

// Text returns the question.
func (q Query) Text() string { return q.text }

// Mode returns the requested mode, or "" when the router should classify.
func (q Query) Mode() string { return q.mode }

// Jurisdiction returns the jurisdiction filter in normalized form.
func (q Query) Jurisdiction() string { return q.jurisdiction }

// History returns a copy of the retained turns.
func (q Query) History() []workflow.Turn { return slices.Clone(q.history) }

var (
	deepMarkers = []string{
		"compare", "comparison", "contrast", "versus", " vs ", " vs. ",
		"difference between", "differences between", "analyze", "analyse", "analysis",
		"pros and cons", "trade-off", "tradeoff", "evaluate", "across",
	}
	multiPartMarkers = []string{"explain", "why", "how does", "how do", "step by step", "in detail"}
)

// longQuestionWords is the word count above which a question is treated
// as multi-part.
const longQuestionWords = 25

// Classify picks a mode for a question that did not name one: deep when it
// asks for comparison or analysis across sources, medium when it is long or
// has several parts, auto otherwise.
func Classify(text string) string {
	lower := " " + strings.ToLower(strings.Join(strings.Fields(text), " ")) + " "
	for _, m := range deepMarkers {
		if strings.Contains(lower, m) {
			return ModeDeep
		}
	}
	if len(strings.Fields(text)) > longQuestionWords || strings.Count(text, "?") > 1 {
		return ModeMedium
	}
	for _, m := range multiPartMarkers {
		if strings.HasPrefix(strings.TrimSpace(lower), m) {
			return ModeMedium
		}
	}
	return ModeAuto
}

// Cheaper returns the next cheaper mode, or "" for auto.
func Cheaper(mode string) string {
	i := slices.Index(workflow.Modes, mode)
	if i <= 0 {
		return ""
	}
	return workflow.Modes[i-1]
}
