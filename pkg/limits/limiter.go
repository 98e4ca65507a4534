package limits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/sextant/pkg/limits/storage"
	"mercator-hq/sextant/pkg/telemetry/metrics"

	"github.com/google/uuid"
)

// dailyKeyTTL keeps a day's counter around long enough to be read across a
// UTC midnight boundary by a lagging clock.
const dailyKeyTTL = 48 * time.Hour

// Limiter admits runs against the generation and search quotas.
//
// Every resource has one fixed-window counter guarded by its own mutex. Minute
// counters live in memory; the daily token counter is mirrored into a
// storage.CounterStore so that a restart keeps the day's usage.
//
//	res, dec := limiter.Admit(ctx, limits.Request{Tokens: 2500, SearchCalls: 1, GenerationCalls: 1})
//	if !dec.Allowed {
//	    return dec
//	}
//	defer limiter.Rollback(ctx, res) // no-op after Commit
//	...
//	limiter.Commit(ctx, res, actual)
type Limiter struct {
	counters map[Resource]*counter
	store    storage.CounterStore
	logger   *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	mu        sync.RWMutex
	threshold float64
}

type counter struct {
	mu          sync.Mutex
	resource    Resource
	daily       bool
	hardLimit   int64
	windowStart time.Time
	count       int64
	loaded      bool
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter. store backs the daily counter; a nil store
// keeps it in memory only.
func NewLimiter(limits Limits, store storage.CounterStore, opts ...Option) *Limiter {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	l := &Limiter{
		counters: make(map[Resource]*counter, len(Resources)),
		store:    store,
		logger:   slog.Default().With("component", "limits"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, r := range Resources {
		l.counters[r] = &counter{resource: r, daily: r == ResourceTokensPerDay}
	}
	l.SetLimits(limits)
	return l
}

// SetLimits replaces the hard limits and threshold. Counts are kept, so
// lowering a limit below current usage denies until the window resets.
func (l *Limiter) SetLimits(limits Limits) {
	threshold := limits.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	l.mu.Lock()
	l.threshold = threshold
	l.mu.Unlock()

	for _, r := range Resources {
		c := l.counters[r]
		c.mu.Lock()
		c.hardLimit = limits.hardLimit(r)
		c.mu.Unlock()
	}
	l.logger.Info("quota limits applied",
		"threshold", threshold,
		"tokens_per_minute", limits.TokensPerMinute,
		"tokens_per_day", limits.TokensPerDay,
		"requests_per_minute", limits.RequestsPerMinute,
		"search_per_minute", limits.SearchPerMinute,
	)
}

func (l *Limiter) currentThreshold() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.threshold
}

// Admit reserves req against every resource it touches. When any resource
// would exceed its threshold the reservations already taken are undone, a nil
// reservation is returned and the decision names the denying resource.
func (l *Limiter) Admit(ctx context.Context, req Request) (*Reservation, Decision) {
	now := l.now()
	threshold := l.currentThreshold()

	res := &Reservation{
		ID:      uuid.NewString(),
		Request: req,
		windows: make(map[Resource]time.Time, len(Resources)),
	}

	var taken []Resource
	for _, r := range Resources {
		amount := req.Amount(r)
		res.windows[r] = windowStart(r, now)
		if amount <= 0 {
			continue
		}

		c := l.counters[r]
		ok, projected, limit := l.reserve(ctx, c, now, amount, threshold)
		if !ok {
			for _, prev := range taken {
				l.adjust(ctx, l.counters[prev], now, res.windows[prev], -req.Amount(prev))
			}
			l.metrics.RecordAdmission("denied", string(r))
			l.logger.WarnContext(ctx, "admission denied",
				"resource", r,
				"projected", projected,
				"limit", limit,
				"threshold", threshold,
			)
			return nil, Decision{
				Resource:   r,
				Reason:     ReasonRateLimit,
				RetryAfter: windowEnd(r, now).Sub(now),
				Projected:  projected,
				Limit:      limit,
			}
		}
		taken = append(taken, r)
	}

	l.metrics.RecordAdmission("allowed", "")
	l.logger.DebugContext(ctx, "admission granted",
		"reservation_id", res.ID,
		"tokens", req.Tokens,
		"search_calls", req.SearchCalls,
		"generation_calls", req.GenerationCalls,
	)
	return res, Decision{Allowed: true}
}

// Commit reconciles a reservation with the usage actually consumed. The
// difference may be negative. Counters whose window rolled over since Admit
// are left alone.
func (l *Limiter) Commit(ctx context.Context, res *Reservation, actual Usage) {
	if res == nil || !res.settle() {
		return
	}
	now := l.now()
	for _, r := range Resources {
		delta := actual.Amount(r) - res.Request.Amount(r)
		if delta == 0 {
			continue
		}
		l.adjust(ctx, l.counters[r], now, res.windows[r], delta)
	}
	l.logger.DebugContext(ctx, "reservation committed",
		"reservation_id", res.ID,
		"reserved_tokens", res.Request.Tokens,
		"actual_tokens", actual.Tokens,
	)
}

// Rollback returns a reservation entirely.
func (l *Limiter) Rollback(ctx context.Context, res *Reservation) {
	if res == nil || !res.settle() {
		return
	}
	now := l.now()
	for _, r := range Resources {
		if amount := res.Request.Amount(r); amount > 0 {
			l.adjust(ctx, l.counters[r], now, res.windows[r], -amount)
		}
	}
	l.logger.DebugContext(ctx, "reservation rolled back", "reservation_id", res.ID)
}

// Status returns the current state of every counter in admission order.
func (l *Limiter) Status(ctx context.Context) []Status {
	now := l.now()
	out := make([]Status, 0, len(Resources))
	for _, r := range Resources {
		c := l.counters[r]
		c.mu.Lock()
		l.roll(ctx, c, now)
		out = append(out, Status{
			Resource:    r,
			Count:       c.count,
			Limit:       c.hardLimit,
			WindowStart: c.windowStart,
			ResetAt:     windowEnd(r, now),
		})
		c.mu.Unlock()
	}
	return out
}

// reserve checks and adds amount as one critical section.
func (l *Limiter) reserve(ctx context.Context, c *counter, now time.Time, amount int64, threshold float64) (bool, int64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l.roll(ctx, c, now)
	projected := c.count + amount
	if float64(projected) > float64(c.hardLimit)*threshold {
		return false, projected, c.hardLimit
	}
	l.apply(ctx, c, amount)
	return true, projected, c.hardLimit
}

// adjust applies delta if the counter is still in the window the
// reservation was taken in. The result is clamped to [0, hardLimit].
func (l *Limiter) adjust(ctx context.Context, c *counter, now, reservedWindow time.Time, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l.roll(ctx, c, now)
	if !c.windowStart.Equal(reservedWindow) {
		return
	}
	target := c.count + delta
	if target > c.hardLimit {
		target = c.hardLimit
	}
	if target < 0 {
		target = 0
	}
	if target == c.count {
		return
	}
	l.apply(ctx, c, target-c.count)
}

// apply adds delta to the counter and mirrors it to the store for the daily
// window. Caller holds c.mu.
func (l *Limiter) apply(ctx context.Context, c *counter, delta int64) {
	c.count += delta
	if c.daily {
		key := dailyKey(c.resource, c.windowStart)
		if v, err := l.store.IncrementBy(ctx, key, delta, dailyKeyTTL); err != nil {
			l.storeFailed(ctx, "increment", key, err)
		} else if v >= 0 {
			// Another process sharing the store may have moved the counter.
			c.count = v
		}
	}
	if c.hardLimit > 0 {
		l.metrics.UpdateQuotaUsage(string(c.resource), float64(c.count)/float64(c.hardLimit))
	}
}

// roll resets the counter when now falls in a later window. The daily
// counter is reloaded from the store. Caller holds c.mu.
func (l *Limiter) roll(ctx context.Context, c *counter, now time.Time) {
	start := windowStart(c.resource, now)
	if c.loaded && c.windowStart.Equal(start) {
		return
	}
	c.windowStart = start
	c.count = 0
	c.loaded = true

	if c.daily {
		key := dailyKey(c.resource, start)
		v, err := l.store.Get(ctx, key)
		if err != nil {
			l.storeFailed(ctx, "get", key, err)
			return
		}
		c.count = v
	}
}

func (l *Limiter) storeFailed(ctx context.Context, op, key string, err error) {
	l.metrics.RecordCounterStoreError(op)
	l.logger.WarnContext(ctx, "counter store unavailable, continuing with in-memory count",
		"op", op,
		"key", key,
		"error", err,
	)
}

func windowStart(r Resource, now time.Time) time.Time {
	now = now.UTC()
	if r == ResourceTokensPerDay {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return now.Truncate(time.Minute)
}

func windowEnd(r Resource, now time.Time) time.Time {
	if r == ResourceTokensPerDay {
		return windowStart(r, now).AddDate(0, 0, 1)
	}
	return windowStart(r, now).Add(time.Minute)
}

func dailyKey(r Resource, start time.Time) string {
	return fmt.Sprintf("%s:%s", r, start.Format("2006-01-02"))
}
