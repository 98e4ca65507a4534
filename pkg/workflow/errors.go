package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrRunFailed matches every *RunError.
	ErrRunFailed = errors.New("workflow run failed")

	// ErrStepBudgetExceeded is the cause recorded for steps that overran or
	// had no budget left.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")

	// ErrUpstreamUnavailable wraps collaborator failures inside a step.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUnknownMode is returned when no graph is bound to a mode.
	ErrUnknownMode = errors.New("unknown mode")
)

// Failure kinds carried by RunError.
const (
	FailureShortOutput = "empty_or_short_output"
	FailureCanceled    = "canceled"
)

// RunError reports a failed run.
type RunError struct {
	RunID string
	Mode  string
	Kind  string
	Cause error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("run %s (%s) failed: %s: %v", e.RunID, e.Mode, e.Kind, e.Cause)
	}
	return fmt.Sprintf("run %s (%s) failed: %s", e.RunID, e.Mode, e.Kind)
}

// Unwrap returns the cause.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is().
func (e *RunError) Is(target error) bool {
	return target == ErrRunFailed
}
