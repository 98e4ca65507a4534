package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/sextant/pkg/retrieval/shard"
	"mercator-hq/sextant/pkg/telemetry/metrics"
	"mercator-hq/sextant/pkg/telemetry/tracing"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds concurrent shard lookups.
const DefaultConcurrency = 4

// Service answers a batch of query texts with passages: one embedding call,
// one vector search, then a rank lookup per hit against the shard stores.
type Service struct {
	embedder    Embedder
	index       VectorIndex
	shards      ShardResolver
	concurrency int

	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithConcurrency bounds concurrent shard lookups.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService creates a retrieval service.
func NewService(embedder Embedder, index VectorIndex, shards ShardResolver, opts ...Option) *Service {
	s := &Service{
		embedder:    embedder,
		index:       index,
		shards:      shards,
		concurrency: DefaultConcurrency,
		logger:      slog.Default().With("component", "retrieval"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retrieve returns one Result per text, in order. Failures are reported per
// query in Result.Err and never fail the whole batch.
func (s *Service) Retrieve(ctx context.Context, texts []string, topK int, filter Filter) []Result {
	ctx, span := s.tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()
	start := time.Now()

	results := make([]Result, len(texts))
	for i, t := range texts {
		results[i].Query = t
	}
	if len(texts) == 0 {
		return results
	}

	vectors := s.embed(ctx, texts, results)
	hits := s.search(ctx, vectors, topK, &filter, results)
	s.resolve(ctx, hits, results)

	failed, resolved, unresolved := 0, 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		for _, p := range r.Passages {
			if p.Resolved {
				resolved++
			} else {
				unresolved++
			}
		}
	}
	s.metrics.RecordRetrieval(len(texts), failed, resolved, unresolved)
	tracing.SetRetrievalAttributes(span, len(texts), topK, unresolved)
	s.logger.DebugContext(ctx, "retrieval finished",
		"queries", len(texts),
		"failed", failed,
		"passages", resolved,
		"unresolved", unresolved,
		"duration", time.Since(start),
	)
	return results
}

// embed embeds every text with one call, falling back to one call per text
// when the batch fails. Texts that fail individually get Err set and a nil
// vector.
func (s *Service) embed(ctx context.Context, texts []string, results []Result) [][]float32 {
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) == len(texts) {
		return vectors
	}
	if err == nil {
		err = fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts))
	}
	s.logger.WarnContext(ctx, "batch embedding failed, embedding texts individually",
		"texts", len(texts),
		"error", err,
	)

	vectors = make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.embedder.EmbedBatch(ctx, []string{t})
		if err == nil && len(v) != 1 {
			err = fmt.Errorf("got %d vectors for 1 text", len(v))
		}
		if err != nil {
			results[i].Err = fmt.Errorf("%w: %w", ErrEmbedding, err)
			continue
		}
		vectors[i] = v[0]
	}
	return vectors
}

// search runs one vector search for all embedded queries, falling back to
// one search per query when the batch fails.
func (s *Service) search(ctx context.Context, vectors [][]float32, topK int, filter *Filter, results []Result) [][]VectorHit {
	hits := make([][]VectorHit, len(vectors))

	var idx []int
	var batch [][]float32
	for i, v := range vectors {
		if results[i].Err == nil && v != nil {
			idx = append(idx, i)
			batch = append(batch, v)
		}
	}
	if len(batch) == 0 {
		return hits
	}

	out, err := s.index.SearchBatch(ctx, batch, topK, filter)
	if err == nil && len(out) == len(batch) {
		for j, i := range idx {
			hits[i] = out[j]
		}
		return hits
	}
	if err == nil {
		err = fmt.Errorf("got %d hit lists for %d vectors", len(out), len(batch))
	}
	s.logger.WarnContext(ctx, "batch vector search failed, searching individually",
		"vectors", len(batch),
		"error", err,
	)

	for j, i := range idx {
		h, err := s.index.SearchBatch(ctx, batch[j:j+1], topK, filter)
		if err == nil && len(h) != 1 {
			err = fmt.Errorf("got %d hit lists for 1 vector", len(h))
		}
		if err != nil {
			results[i].Err = fmt.Errorf("%w: %w", ErrVectorSearch, err)
			continue
		}
		hits[i] = h[0]
	}
	return hits
}

// resolve fills Passages for every query that has hits. Lookups share one
// bounded errgroup across all queries.
func (s *Service) resolve(ctx context.Context, hits [][]VectorHit, results []Result) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i := range hits {
		if results[i].Err != nil || len(hits[i]) == 0 {
			continue
		}
		results[i].Passages = make([]Passage, len(hits[i]))
		for j, hit := range hits[i] {
			g.Go(func() error {
				results[i].Passages[j] = s.resolveHit(ctx, hit)
				return nil
			})
		}
	}
	g.Wait()
}

// resolveHit tries the shard's primary then each replica. A hit nothing can
// resolve becomes a NotFoundText placeholder.
func (s *Service) resolveHit(ctx context.Context, hit VectorHit) Passage {
	p := Passage{
		ShardID:          hit.ShardID,
		DocumentID:       hit.DocumentID,
		LocalChunkIndex:  hit.LocalChunkIndex,
		GlobalChunkIndex: -1,
		Score:            hit.Score,
		Text:             NotFoundText,
	}

	chain := s.shards.Resolve(hit.ShardID)
	if len(chain) == 0 {
		s.logger.WarnContext(ctx, "vector hit references unknown shard",
			"shard_id", hit.ShardID,
			"document_id", hit.DocumentID,
		)
		return p
	}

	for attempt, f := range chain {
		rec, err := f.FetchByRank(ctx, hit.DocumentID, hit.LocalChunkIndex)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, shard.ErrNotFound) {
				level = slog.LevelDebug
			}
			s.logger.Log(ctx, level, "chunk lookup missed",
				"shard_id", hit.ShardID,
				"document_id", hit.DocumentID,
				"rank", hit.LocalChunkIndex,
				"replica", attempt,
				"error", err,
			)
			continue
		}

		if attempt > 0 {
			s.metrics.RecordReplicaFallback(hit.ShardID)
		}
		p.GlobalChunkIndex = rec.GlobalChunkIndex
		p.Text = rec.Text
		p.Metadata = rec.Metadata
		p.Resolved = true

		if hit.IngestGeneration > 0 && rec.IngestGeneration != hit.IngestGeneration {
			p.Stale = true
			s.metrics.RecordStaleChunk(hit.ShardID)
			s.logger.WarnContext(ctx, "chunk generation differs from the indexed vector, rank may point at a different chunk",
				"shard_id", hit.ShardID,
				"document_id", hit.DocumentID,
				"rank", hit.LocalChunkIndex,
				"indexed_generation", hit.IngestGeneration,
				"stored_generation", rec.IngestGeneration,
			)
		}
		return p
	}
	return p
}
