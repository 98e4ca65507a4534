// Package retry provides the bounded retry policy applied at every external
// collaborator call site (embedding, vector index, web search, generation).
//
// A Policy wraps github.com/cenkalti/backoff/v4 with three knobs: the maximum
// number of attempts, the base (initial) delay, and a jitter factor. Errors
// marked with Permanent are returned immediately without further attempts.
//
//	policy := retry.Policy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, Jitter: 0.5}
//	err := policy.Do(ctx, "qdrant.query_batch", func(ctx context.Context) error {
//	    _, err := client.QueryBatch(ctx, req)
//	    return err
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mercator-hq/sextant/pkg/config"

	"github.com/cenkalti/backoff/v4"
)

// Default values applied by Normalize when a field is left at zero.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 250 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultJitter      = 0.5
)

// Policy is an explicit bounded-retry policy.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	// A value of 1 disables retries.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. Later delays grow
	// exponentially up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the delay between two attempts.
	MaxDelay time.Duration

	// Jitter is the randomization factor (0.0-1.0) applied to each delay.
	Jitter float64

	// Logger receives one debug line per retried failure. Defaults to slog.Default().
	Logger *slog.Logger
}

// FromConfig builds a policy from the retry config section.
func FromConfig(cfg config.RetryConfig, logger *slog.Logger) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Jitter:      cfg.Jitter,
		Logger:      logger,
	}.Normalize()
}

// Normalize returns a copy of p with zero fields replaced by defaults.
func (p Policy) Normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Do runs op until it succeeds, returns a Permanent error, the context is
// done, or MaxAttempts is reached. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	p = p.Normalize()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0 // bounded by attempts, not by wall clock

	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return op(ctx)
	}
	notify := func(err error, next time.Duration) {
		p.Logger.Debug("retrying collaborator call",
			"call", name,
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	}

	return backoff.RetryNotify(operation, b, notify)
}

// Permanent marks err as non-retryable. Do returns the wrapped error as-is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
