package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/sextant/pkg/cache"
	"mercator-hq/sextant/pkg/cache/store"
	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/limits"
	"mercator-hq/sextant/pkg/limits/storage"
	"mercator-hq/sextant/pkg/providers/openai"
	"mercator-hq/sextant/pkg/retention"
	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/retrieval/qdrant"
	"mercator-hq/sextant/pkg/retrieval/shard"
	"mercator-hq/sextant/pkg/retry"
	"mercator-hq/sextant/pkg/router"
	"mercator-hq/sextant/pkg/search"
	"mercator-hq/sextant/pkg/telemetry/health"
	"mercator-hq/sextant/pkg/telemetry/metrics"
	"mercator-hq/sextant/pkg/telemetry/tracing"
	"mercator-hq/sextant/pkg/tokens"
	"mercator-hq/sextant/pkg/workflow"
)

// app is the fully wired process: stores, collaborators, router and the
// supporting telemetry. Close releases everything in reverse order.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	health  *health.Checker

	counters storage.CounterStore
	limiter  *limits.Limiter
	cache    *cache.Cache
	router   *router.Router
	pruner   *retention.Pruner

	closers []func() error
}

// newStores opens only the quota counters and the response cache, plus the
// pruner over them. Maintenance commands use it without any collaborator
// credentials.
func newStores(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Telemetry.Metrics, nil),
		health:  health.New(cfg.Telemetry.Health.CheckTimeout),
	}
	if err := a.openLimits(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCache(); err != nil {
		a.Close()
		return nil, err
	}

	targets := []retention.Target{retention.CounterTarget(a.counters)}
	if a.cache != nil {
		targets = append(targets, retention.CacheTarget(a.cache))
	}
	a.pruner = retention.NewPruner(targets, retention.WithLogger(logger.With("component", "retention")))
	return a, nil
}

// newApp opens the stores and connects every collaborator.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := newStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	a.tracer = tracer
	a.onClose(func() error { return tracer.Shutdown(context.Background()) })

	executor, err := a.buildExecutor()
	if err != nil {
		return nil, err
	}

	graphs, err := workflow.DefaultGraphs(cfg.Modes)
	if err != nil {
		return nil, fmt.Errorf("failed to build mode graphs: %w", err)
	}

	// A disabled cache must reach the router as an untyped nil.
	var rc router.ResponseCache
	if a.cache != nil {
		rc = a.cache
	}
	a.router = router.New(rc, a.limiter, executor, graphs,
		router.WithLogger(logger.With("component", "router")),
		router.WithMetrics(a.metrics),
		router.WithTracer(a.tracer),
	)

	ready = true
	return a, nil
}

func (a *app) openLimits() error {
	cfg := a.cfg.Limits
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := storage.NewSQLiteStore(storage.SQLiteStoreConfig{
			Path:        cfg.Storage.SQLite.Path,
			BusyTimeout: cfg.Storage.SQLite.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to open counter store: %w", err)
		}
		a.counters = s
	default:
		a.counters = storage.NewMemoryStore()
	}
	a.onClose(a.counters.Close)
	a.health.RegisterCheck("counter_store", a.counters.Ping)

	a.limiter = limits.NewLimiter(limits.LimitsFromConfig(cfg), a.counters,
		limits.WithLogger(a.logger.With("component", "limits")),
		limits.WithMetrics(a.metrics),
	)
	return nil
}

func (a *app) openCache() error {
	cfg := a.cfg.Cache
	if !cfg.Enabled {
		a.logger.Info("response cache disabled")
		return nil
	}

	var backend store.Backend
	switch cfg.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(store.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to open cache store: %w", err)
		}
		backend = s
	default:
		backend = store.NewMemoryStore(cfg.MaxEntries, store.WithEvictionHook(a.metrics.RecordCacheEviction))
	}
	a.onClose(backend.Close)
	a.health.RegisterCheck("cache_store", backend.Ping)

	a.cache = cache.New(backend, cache.PolicyFromConfig(cfg, a.cfg.Modes),
		cache.WithLogger(a.logger.With("component", "cache")),
		cache.WithMetrics(a.metrics),
	)
	return nil
}

func (a *app) buildExecutor() (*workflow.Executor, error) {
	cfg := a.cfg
	policy := retry.FromConfig(cfg.Retry, a.logger.With("component", "retry"))

	client, err := openai.NewClient(openai.Config{
		APIKey:  cfg.Generation.APIKey,
		BaseURL: cfg.Generation.BaseURL,
		Timeout: cfg.Generation.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}
	generator := openai.NewGenerator(client, openai.GeneratorConfig{
		Model:   cfg.Generation.Model,
		Timeout: cfg.Generation.Timeout,
		Retry:   policy,
		Logger:  a.logger,
	})
	embedder := openai.NewEmbedder(client, cfg.Retrieval.EmbeddingModel, cfg.Generation.Timeout, policy, a.logger)

	shards, err := shard.OpenSet(cfg.Retrieval.Shards, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose(shards.Close)
	a.health.RegisterCheck("shards", shards.Ping)

	index, err := qdrant.New(cfg.Retrieval.Qdrant, policy, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vector index: %w", err)
	}
	a.onClose(index.Close)
	a.health.RegisterCheck("vector_index", index.Ping)

	retriever := retrieval.NewService(embedder, index, shards,
		retrieval.WithLogger(a.logger.With("component", "retrieval")),
		retrieval.WithMetrics(a.metrics),
		retrieval.WithTracer(a.tracer),
		retrieval.WithConcurrency(cfg.Retrieval.LookupConcurrency),
	)

	var searcher search.Searcher = search.Disabled{}
	if cfg.Search.Provider == "tavily" {
		searcher = search.NewTavily(cfg.Search, policy, a.logger)
	} else {
		a.logger.Info("web search disabled", "provider", cfg.Search.Provider)
	}

	return workflow.NewExecutor(retriever, searcher, generator, tokens.NewEstimator(cfg.Generation.CharsPerToken),
		workflow.WithLogger(a.logger.With("component", "workflow")),
		workflow.WithMetrics(a.metrics),
		workflow.WithTracer(a.tracer),
	), nil
}

// applyConfig pushes reloadable settings into the running components.
// Quotas and cache TTLs change in place; everything else needs a restart.
func (a *app) applyConfig(cfg *config.Config) {
	a.limiter.SetLimits(limits.LimitsFromConfig(cfg.Limits))
	if a.cache != nil {
		a.cache.Policy().Update(cfg.Cache.BaseTTL, cfg.Cache.RecencyTTL, cfg.Cache.RecencyTerms, cache.Multipliers(cfg.Modes))
	}
	config.SetConfig(cfg)
	a.logger.Info("configuration reloaded",
		"tokens_per_day", cfg.Limits.GenerationTokensPerDay,
		"base_ttl", cfg.Cache.BaseTTL,
	)
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every opened resource, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
