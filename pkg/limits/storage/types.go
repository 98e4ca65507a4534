package storage

import (
	"context"
	"errors"
	"time"
)

// ErrCounterStoreUnavailable wraps every failure of a durable counter store.
// The limiter logs it and treats the counter as zero.
var ErrCounterStoreUnavailable = errors.New("counter store unavailable")

// CounterStore persists integer counters that expire after a TTL.
// Implementations must be safe for concurrent use.
type CounterStore interface {
	// Get returns the current value of key, or 0 when it is missing or expired.
	Get(ctx context.Context, key string) (int64, error)

	// IncrementBy adds delta (which may be negative) to key and returns the new
	// value. A missing or expired key starts from zero and expires ttl after
	// this call; an existing key keeps its expiry.
	IncrementBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Cleanup removes counters that expired before now and returns how many
	// were removed.
	Cleanup(ctx context.Context, now time.Time) (int, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
