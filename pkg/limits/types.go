package limits

import (
	"sync"
	"time"

	"mercator-hq/sextant/pkg/config"
)

// Resource names one externally metered quota.
type Resource string

const (
	// ResourceTokensPerMinute caps generation tokens per wall-clock minute.
	ResourceTokensPerMinute Resource = "generation_tokens_per_minute"

	// ResourceTokensPerDay caps generation tokens per UTC day. It is the only
	// resource backed by the durable counter store.
	ResourceTokensPerDay Resource = "generation_tokens_per_day"

	// ResourceRequestsPerMinute caps generation calls per minute.
	ResourceRequestsPerMinute Resource = "generation_requests_per_minute"

	// ResourceSearchPerMinute caps web search calls per minute.
	ResourceSearchPerMinute Resource = "search_requests_per_minute"
)

// Resources lists every resource in admission order.
var Resources = []Resource{
	ResourceTokensPerMinute,
	ResourceTokensPerDay,
	ResourceRequestsPerMinute,
	ResourceSearchPerMinute,
}

// ReasonRateLimit is the denial reason reported to callers.
const ReasonRateLimit = "rate_limit"

// Limits holds the hard limit for every resource and the admission threshold.
type Limits struct {
	// Threshold is the fraction of a hard limit at which admission starts
	// denying. Default: 0.8
	Threshold float64

	TokensPerMinute   int64
	TokensPerDay      int64
	RequestsPerMinute int64
	SearchPerMinute   int64
}

// LimitsFromConfig converts the limits config section.
func LimitsFromConfig(cfg config.LimitsConfig) Limits {
	return Limits{
		Threshold:         cfg.Threshold,
		TokensPerMinute:   cfg.GenerationTokensPerMinute,
		TokensPerDay:      cfg.GenerationTokensPerDay,
		RequestsPerMinute: cfg.GenerationRequestsPerMinute,
		SearchPerMinute:   cfg.SearchRequestsPerMinute,
	}
}

func (l Limits) hardLimit(r Resource) int64 {
	switch r {
	case ResourceTokensPerMinute:
		return l.TokensPerMinute
	case ResourceTokensPerDay:
		return l.TokensPerDay
	case ResourceRequestsPerMinute:
		return l.RequestsPerMinute
	case ResourceSearchPerMinute:
		return l.SearchPerMinute
	}
	return 0
}

// Request is the estimated cost of one run, reserved before it starts.
type Request struct {
	Tokens          int64
	SearchCalls     int64
	GenerationCalls int64
}

// Usage is the actual cost of a finished run.
type Usage = Request

// Amount returns the quantity of r consumed by the request.
func (r Request) Amount(res Resource) int64 {
	switch res {
	case ResourceTokensPerMinute, ResourceTokensPerDay:
		return r.Tokens
	case ResourceRequestsPerMinute:
		return r.GenerationCalls
	case ResourceSearchPerMinute:
		return r.SearchCalls
	}
	return 0
}

// Decision is the outcome of Admit.
type Decision struct {
	// Allowed reports whether the reservation was taken.
	Allowed bool

	// Resource is the resource that denied admission (empty when allowed).
	Resource Resource

	// Reason is ReasonRateLimit when denied.
	Reason string

	// RetryAfter is the time until the denying window resets.
	RetryAfter time.Duration

	// Projected is count + requested for the denying resource.
	Projected int64

	// Limit is the hard limit of the denying resource.
	Limit int64
}

// Reservation is the quota held by one admitted run. It must be settled with
// Commit or Rollback exactly once; later calls are ignored.
type Reservation struct {
	// ID identifies the reservation in logs.
	ID string

	// Request is the amount reserved.
	Request Request

	windows map[Resource]time.Time

	mu      sync.Mutex
	settled bool
}

// settle marks the reservation settled, reporting false if it already was.
func (r *Reservation) settle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return false
	}
	r.settled = true
	return true
}

// Settled reports whether Commit or Rollback has run.
func (r *Reservation) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled
}

// Status is a point-in-time view of one counter.
type Status struct {
	Resource    Resource  `json:"resource"`
	Count       int64     `json:"count"`
	Limit       int64     `json:"limit"`
	WindowStart time.Time `json:"window_start"`
	ResetAt     time.Time `json:"reset_at"`
}
