package providers

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable matches an UpstreamError whose kind is worth retrying:
// rate limits, timeouts and server-side failures.
var ErrUnavailable = errors.New("model provider unavailable")

// Kind classifies an upstream failure.
type Kind int

const (
	// KindUnavailable is a transport failure or a 5xx answer.
	KindUnavailable Kind = iota
	// KindRateLimited is a 429 answer.
	KindRateLimited
	// KindTimeout is an expired per-call deadline.
	KindTimeout
	// KindRejected is any other 4xx answer. The request will not succeed on
	// a retry.
	KindRejected
	// KindAuth is a 401 or 403 answer.
	KindAuth
	// KindMisconfigured means the adapter could not be built.
	KindMisconfigured
)

var kindNames = map[Kind]string{
	KindUnavailable:   "unavailable",
	KindRateLimited:   "rate_limited",
	KindTimeout:       "timeout",
	KindRejected:      "rejected",
	KindAuth:          "auth",
	KindMisconfigured: "misconfigured",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindForStatus maps an HTTP status onto a Kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindRejected
	default:
		return KindUnavailable
	}
}

// UpstreamError is returned by every model adapter.
type UpstreamError struct {
	Provider string
	// Op is the collaborator call, e.g. "generate" or "embed".
	Op         string
	Kind       Kind
	StatusCode int
	// RetryAfter is the provider's requested wait for KindRateLimited.
	RetryAfter time.Duration
	Message    string
	Cause      error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// Is matches ErrUnavailable for retryable kinds.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUnavailable && e.Retryable()
}

// Retryable reports whether another attempt may succeed.
func (e *UpstreamError) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindRateLimited, KindTimeout:
		return true
	}
	return false
}

// KindOf returns the kind of the first UpstreamError in err's chain.
func KindOf(err error) (Kind, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return 0, false
}
