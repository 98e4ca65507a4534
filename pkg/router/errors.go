package router

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/sextant/pkg/workflow"
)

// Errors returned by Route that can be checked with errors.Is().
var (
	// ErrQuotaDenied is returned when admission control rejects a query.
	ErrQuotaDenied = errors.New("quota denied")

	// ErrWorkflowFailed is returned when a run (and its cheaper retry, if
	// any) produced no usable answer.
	ErrWorkflowFailed = errors.New("workflow failed")

	// ErrInvalidQuery is returned by NewQuery for unusable input.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrStepBudgetExceeded is recorded on steps that overran their token
	// budget. It never fails a run on its own.
	ErrStepBudgetExceeded = workflow.ErrStepBudgetExceeded

	// ErrUpstreamUnavailable is recorded on steps whose collaborator failed.
	// It surfaces as ErrWorkflowFailed only when the final answer is empty.
	ErrUpstreamUnavailable = workflow.ErrUpstreamUnavailable
)

// DeniedError is returned when admission is denied. Nothing was executed and
// no quota was consumed.
type DeniedError struct {
	// Mode is the mode that was denied.
	Mode string

	// Reason is "rate_limit".
	Reason string

	// Resource is the quota that denied.
	Resource string

	// RetryAfter is the time until the denying window resets.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s on %s (retry after %s)", e.Mode, e.Reason, e.Resource, e.RetryAfter)
}

// Is implements error matching for errors.Is().
func (e *DeniedError) Is(target error) bool {
	return target == ErrQuotaDenied
}

// WorkflowError is returned when a run failed.
type WorkflowError struct {
	// Mode is the mode of the failed run.
	Mode string

	// RunID identifies the run in logs.
	RunID string

	// Kind is the failure kind, e.g. "empty_or_short_output".
	Kind string

	// Cause is the executor error.
	Cause error
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s run %s failed: %s", e.Mode, e.RunID, e.Kind)
}

// Unwrap returns the executor error.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is().
func (e *WorkflowError) Is(target error) bool {
	return target == ErrWorkflowFailed
}
