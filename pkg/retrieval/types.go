package retrieval

import (
	"context"

	"mercator-hq/sextant/pkg/retrieval/shard"
)

// NotFoundText replaces the text of a passage no shard store could resolve.
const NotFoundText = "[NOT FOUND]"

// NormalizeJurisdiction returns the canonical jurisdiction form shared by
// ingested metadata, vector payload filters and cache keys.
func NormalizeJurisdiction(s string) string {
	return shard.NormalizeJurisdiction(s)
}

// Filter narrows a vector search.
type Filter struct {
	// Jurisdiction matches the payload field of the same name when set. It
	// is compared in NormalizeJurisdiction form.
	Jurisdiction string

	// ShardIDs restricts hits to these shards when non-empty.
	ShardIDs []string
}

// VectorHit is one nearest-neighbour match. LocalChunkIndex is the rank of
// the chunk among its document's chunks in the shard, not a global index.
type VectorHit struct {
	ShardID          string
	DocumentID       string
	LocalChunkIndex  int64
	Score            float32
	IngestGeneration int64
}

// Passage is a resolved (or placeholder) chunk returned to callers.
type Passage struct {
	ShardID          string            `json:"shard_id"`
	DocumentID       string            `json:"document_id"`
	LocalChunkIndex  int64             `json:"local_chunk_index"`
	GlobalChunkIndex int64             `json:"global_chunk_index"`
	Text             string            `json:"text"`
	Score            float32           `json:"score"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	// Resolved is false for NotFoundText placeholders.
	Resolved bool `json:"resolved"`

	// Stale is true when the stored chunk was ingested in a different
	// generation than the vector it was found by.
	Stale bool `json:"stale,omitempty"`
}

// Result holds the passages for one query text.
type Result struct {
	Query    string
	Passages []Passage
	Err      error
}

// Partial reports whether any passage is a placeholder.
func (r Result) Partial() bool {
	for _, p := range r.Passages {
		if !p.Resolved {
			return true
		}
	}
	return false
}

// Embedder turns texts into vectors, one per text in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex returns the topK hits per vector, one slice per vector in order.
type VectorIndex interface {
	SearchBatch(ctx context.Context, vectors [][]float32, topK int, filter *Filter) ([][]VectorHit, error)
}

// ShardResolver returns the primary-then-replicas fetch chain for a shard.
type ShardResolver interface {
	Resolve(shardID string) []shard.Fetcher
}
