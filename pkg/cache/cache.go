package cache

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/sextant/pkg/cache/store"
	"mercator-hq/sextant/pkg/telemetry/metrics"
)

// Cache stores research responses by Key. Backend failures are never returned
// to callers: Get reports a miss, Set and Invalidate do nothing, and the
// failure is logged and counted.
type Cache struct {
	backend store.Backend
	policy  *TTLPolicy
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache over backend. policy may be nil, in which case a one
// hour TTL applies to everything.
func New(backend store.Backend, policy *TTLPolicy, opts ...Option) *Cache {
	if policy == nil {
		policy = NewTTLPolicy(time.Hour, 10*time.Minute, nil, nil)
	}
	c := &Cache{
		backend: backend,
		policy:  policy,
		logger:  slog.Default().With("component", "cache"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the TTL policy, for reloads.
func (c *Cache) Policy() *TTLPolicy {
	return c.policy
}

// TTLFor returns the TTL for a question asked in mode.
func (c *Cache) TTLFor(text, mode string) time.Duration {
	return c.policy.For(Normalize(text), mode)
}

// Get returns the entry stored under key.
func (c *Cache) Get(ctx context.Context, key Key) (*Entry, bool) {
	data, ok, err := c.backend.Get(ctx, string(key))
	if err != nil {
		c.failed(ctx, "get", key, err)
		return nil, false
	}
	if !ok {
		c.metrics.RecordCacheMiss()
		return nil, false
	}

	entry, err := decodeEntry(data)
	if err != nil {
		// A corrupt row would otherwise be served until it expires.
		c.failed(ctx, "get", key, err)
		c.Invalidate(ctx, key)
		return nil, false
	}
	c.metrics.RecordCacheHit()
	return entry, true
}

// Set stores entry under key for ttl, replacing any previous entry. The last
// writer wins. CreatedAt and TTLSeconds are filled in when zero.
func (c *Cache) Set(ctx context.Context, key Key, entry *Entry, ttl time.Duration) {
	if entry == nil || ttl <= 0 {
		return
	}
	stored := *entry
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = c.now().UTC()
	}
	if stored.TTLSeconds == 0 {
		stored.TTLSeconds = int64(ttl / time.Second)
	}
	stored.Metadata.ToolsCalled = ToolSet(stored.Metadata.ToolsCalled...)

	data, err := encodeEntry(&stored)
	if err != nil {
		c.failed(ctx, "set", key, err)
		return
	}
	if err := c.backend.Set(ctx, string(key), data, ttl); err != nil {
		c.failed(ctx, "set", key, err)
		return
	}
	c.updateSize(ctx)
	c.logger.DebugContext(ctx, "response cached", "key", key.Short(), "ttl", ttl)
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key Key) {
	if err := c.backend.Delete(ctx, string(key)); err != nil {
		c.failed(ctx, "delete", key, err)
		return
	}
	c.updateSize(ctx)
	c.logger.InfoContext(ctx, "cache entry invalidated", "key", key.Short())
}

// Cleanup removes expired entries from the backend.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	n, err := c.backend.Cleanup(ctx, c.now())
	if err != nil {
		return 0, err
	}
	c.updateSize(ctx)
	return n, nil
}

// Ping checks the backend.
func (c *Cache) Ping(ctx context.Context) error {
	return c.backend.Ping(ctx)
}

func (c *Cache) updateSize(ctx context.Context) {
	if n, err := c.backend.Len(ctx); err == nil {
		c.metrics.UpdateCacheEntries(n)
	}
}

func (c *Cache) failed(ctx context.Context, op string, key Key, err error) {
	c.metrics.RecordCacheError(op)
	c.logger.WarnContext(ctx, "cache unavailable, continuing without it",
		"op", op,
		"key", key.Short(),
		"error", err,
	)
}
