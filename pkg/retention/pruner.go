package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/sextant/pkg/cache"
	"mercator-hq/sextant/pkg/limits/storage"
)

// Target is one store whose expired rows can be pruned.
type Target struct {
	Name  string
	Prune func(ctx context.Context, now time.Time) (int, error)
}

// CounterTarget prunes expired quota counters.
func CounterTarget(store storage.CounterStore) Target {
	return Target{Name: "quota_counters", Prune: store.Cleanup}
}

// CacheTarget prunes expired response cache entries.
func CacheTarget(c *cache.Cache) Target {
	return Target{
		Name: "response_cache",
		Prune: func(ctx context.Context, _ time.Time) (int, error) {
			return c.Cleanup(ctx)
		},
	}
}

// Pruner deletes expired rows from every target.
type Pruner struct {
	targets []Target
	logger  *slog.Logger
	now     func() time.Time
}

// PrunerOption configures a Pruner.
type PrunerOption func(*Pruner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PrunerOption {
	return func(p *Pruner) { p.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) PrunerOption {
	return func(p *Pruner) { p.now = now }
}

// NewPruner creates a pruner over targets.
func NewPruner(targets []Target, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		targets: targets,
		logger:  slog.Default().With("component", "retention"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prune runs every target once and returns the rows deleted per target. A
// failing target does not stop the others; their errors are joined.
func (p *Pruner) Prune(ctx context.Context) (map[string]int, error) {
	now := p.now()
	deleted := make(map[string]int, len(p.targets))
	var errs []error
	for _, t := range p.targets {
		n, err := t.Prune(ctx, now)
		if err != nil {
			p.logger.ErrorContext(ctx, "prune failed", "target", t.Name, "error", err)
			errs = append(errs, fmt.Errorf("prune %s: %w", t.Name, err))
			continue
		}
		deleted[t.Name] = n
	}
	return deleted, errors.Join(errs...)
}
