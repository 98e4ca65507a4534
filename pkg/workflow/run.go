package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/search"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Step statuses, used as the metrics label and span attribute.
const (
	StepOK             = "ok"
	StepError          = "error"
	StepBudgetExceeded = "budget_exceeded"
	StepSkipped        = "skipped"
	StepTimeout        = "timeout"
)

// Step error strings recorded in StepResult.Error.
const (
	ErrorBudgetExceeded = "budget_exceeded"
	ErrorTimeout        = "timeout"
)

// Tool names recorded in a run's tool set.
const (
	ToolRetrieval  = "retrieval"
	ToolWebSearch  = "web_search"
	ToolGeneration = "generation"
)

// Turn is one earlier exchange in the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Input is what a run answers.
type Input struct {
	Question     string
	Jurisdiction string
	History      []Turn
}

// State is the run state visible to steps and branch predicates. Only the
// executor writes it, between nodes.
type State struct {
	Input Input

	SubQuestions []string
	Passages     []retrieval.Passage
	WebResults   []search.Result
	Findings     []string
	Gaps         []string
	Answer       string

	// RetrievalFailed counts query texts whose retrieval ended with an error.
	RetrievalFailed int
}

// StepResult is the audit record of one executed (or skipped) step.
type StepResult struct {
	StepID       StepID `json:"step_id"`
	Status       string `json:"status"`
	InputDigest  string `json:"input_digest"`
	OutputDigest string `json:"output_digest"`
	TokensUsed   int    `json:"tokens_used"`
	Budget       int    `json:"budget"`
	ElapsedMs    int64  `json:"elapsed_ms"`
	Error        string `json:"error,omitempty"`
}

// Run is the outcome of executing one graph.
type Run struct {
	ID          string       `json:"id"`
	Mode        string       `json:"mode"`
	Status      string       `json:"status"`
	Steps       []StepResult `json:"steps"`
	TotalTokens int          `json:"total_tokens"`

	// SearchCalls and GenerationCalls count collaborator calls actually
	// made, for quota reconciliation.
	SearchCalls     int `json:"search_calls"`
	GenerationCalls int `json:"generation_calls"`

	Answer     string              `json:"answer"`
	Passages   []retrieval.Passage `json:"passages,omitempty"`
	WebResults []search.Result     `json:"web_results,omitempty"`

	// FailureReason is set when Status is failed.
	FailureReason string `json:"failure_reason,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`

	tools map[string]struct{}
}

// Tools returns the sorted set of tools the run used.
func (r *Run) Tools() []string {
	out := make([]string, 0, len(r.tools))
	for t := range r.tools {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// StepsUsed counts steps that were not skipped.
func (r *Run) StepsUsed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status != StepSkipped {
			n++
		}
	}
	return n
}

// Degraded reports whether any step ended with an error or timeout.
func (r *Run) Degraded() bool {
	for _, s := range r.Steps {
		if s.Status == StepError || s.Status == StepTimeout {
			return true
		}
	}
	return false
}

// Partial reports whether any returned passage is an unresolved placeholder.
func (r *Run) Partial() bool {
	for _, p := range r.Passages {
		if !p.Resolved {
			return true
		}
	}
	return false
}

// digest returns a short hex SHA-256 prefix identifying text in audit logs.
func digest(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:6])
}
