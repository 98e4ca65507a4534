package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps failures of a cache backing store. The cache logs and
// counts them and behaves as a miss.
var ErrUnavailable = errors.New("cache store unavailable")

// Backend stores opaque values under string keys with a per-entry TTL.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value for key. A missing or expired key returns
	// (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Cleanup removes entries that expired before now.
	Cleanup(ctx context.Context, now time.Time) (int, error)

	// Len returns the number of stored entries, including expired entries
	// not yet cleaned up.
	Len(ctx context.Context) (int, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store.
	Close() error
}
