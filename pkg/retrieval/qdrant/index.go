// Package qdrant adapts a Qdrant collection to retrieval.VectorIndex.
//
// Points carry the payload fields shard_id, document_id, local_chunk_index,
// jurisdiction and ingest_generation. Only the first four are required.
// Jurisdiction payloads are expected in retrieval.NormalizeJurisdiction form.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/retry"

	"github.com/qdrant/go-client/qdrant"
)

// Payload field names.
const (
	FieldShardID          = "shard_id"
	FieldDocumentID       = "document_id"
	FieldLocalChunkIndex  = "local_chunk_index"
	FieldJurisdiction     = "jurisdiction"
	FieldIngestGeneration = "ingest_generation"
)

// ErrUnreachable is returned by Ping when the server does not answer.
var ErrUnreachable = errors.New("qdrant unreachable")

// client is the subset of *qdrant.Client used by Index.
type client interface {
	QueryBatch(ctx context.Context, request *qdrant.QueryBatchPoints) ([]*qdrant.BatchResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Index queries one collection.
type Index struct {
	client     client
	collection string
	vectorName string
	retry      retry.Policy
	logger     *slog.Logger
}

// New connects to Qdrant over gRPC.
func New(cfg config.QdrantConfig, policy retry.Policy, logger *slog.Logger) (*Index, error) {
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return newIndex(c, cfg.Collection, cfg.VectorName, policy, logger), nil
}

func newIndex(c client, collection, vectorName string, policy retry.Policy, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		client:     c,
		collection: collection,
		vectorName: vectorName,
		retry:      policy,
		logger:     logger.With("component", "retrieval.qdrant"),
	}
}

// SearchBatch runs one QueryBatch request holding a query per vector.
func (x *Index) SearchBatch(ctx context.Context, vectors [][]float32, topK int, filter *retrieval.Filter) ([][]retrieval.VectorHit, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	qf := buildFilter(filter)
	queries := make([]*qdrant.QueryPoints, len(vectors))
	for i, v := range vectors {
		q := &qdrant.QueryPoints{
			CollectionName: x.collection,
			Query:          qdrant.NewQuery(v...),
			Filter:         qf,
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		}
		if x.vectorName != "" {
			q.Using = qdrant.PtrOf(x.vectorName)
		}
		queries[i] = q
	}

	var batches []*qdrant.BatchResult
	err := x.retry.Do(ctx, "qdrant.query_batch", func(ctx context.Context) error {
		var err error
		batches, err = x.client.QueryBatch(ctx, &qdrant.QueryBatchPoints{
			CollectionName: x.collection,
			QueryPoints:    queries,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query batch of %d: %w", len(vectors), err)
	}
	if len(batches) != len(vectors) {
		return nil, fmt.Errorf("qdrant returned %d result sets for %d queries", len(batches), len(vectors))
	}

	out := make([][]retrieval.VectorHit, len(batches))
	for i, b := range batches {
		hits := make([]retrieval.VectorHit, 0, len(b.GetResult()))
		for _, p := range b.GetResult() {
			hit, ok := toHit(p)
			if !ok {
				x.logger.WarnContext(ctx, "skipping point with incomplete payload", "point_id", p.GetId().String())
				continue
			}
			hits = append(hits, hit)
		}
		out[i] = hits
	}
	return out, nil
}

// Ping runs a health check.
func (x *Index) Ping(ctx context.Context) error {
	reply, err := x.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if reply == nil || reply.GetTitle() == "" {
		return fmt.Errorf("%w: invalid health check response", ErrUnreachable)
	}
	return nil
}

// Close closes the connection.
func (x *Index) Close() error {
	return x.client.Close()
}

func buildFilter(f *retrieval.Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	var must []*qdrant.Condition
	if j := retrieval.NormalizeJurisdiction(f.Jurisdiction); j != "" {
		must = append(must, qdrant.NewMatch(FieldJurisdiction, j))
	}
	if len(f.ShardIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords(FieldShardID, f.ShardIDs...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func toHit(p *qdrant.ScoredPoint) (retrieval.VectorHit, bool) {
	payload := p.GetPayload()
	shardID := payload[FieldShardID].GetStringValue()
	docID := payload[FieldDocumentID].GetStringValue()
	rank, hasRank := payload[FieldLocalChunkIndex]
	if shardID == "" || docID == "" || !hasRank {
		return retrieval.VectorHit{}, false
	}
	return retrieval.VectorHit{
		ShardID:          shardID,
		DocumentID:       docID,
		LocalChunkIndex:  rank.GetIntegerValue(),
		Score:            p.GetScore(),
		IngestGeneration: payload[FieldIngestGeneration].GetIntegerValue(),
	}, true
}
