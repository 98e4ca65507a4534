package cache

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Entry is a cached research response. It is written once after a
// successful run and never modified afterwards.
type Entry struct {
	Response   string    `json:"response"`
	Metadata   Metadata  `json:"metadata"`
	Sources    []Source  `json:"sources,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

// Metadata describes how a cached response was produced.
type Metadata struct {
	Mode          string   `json:"mode"`
	StepsUsed     int      `json:"steps_used"`
	ToolsCalled   []string `json:"tools_called"`
	TokenEstimate int      `json:"token_estimate"`
	Degraded      bool     `json:"degraded,omitempty"`
	Partial       bool     `json:"partial,omitempty"`
}

// Source is a passage or web result the response cites.
type Source struct {
	// Kind is "passage" for corpus chunks and "web" for search results.
	Kind       string  `json:"kind"`
	Title      string  `json:"title,omitempty"`
	URL        string  `json:"url,omitempty"`
	ShardID    string  `json:"shard_id,omitempty"`
	DocumentID string  `json:"document_id,omitempty"`
	ChunkIndex int64   `json:"chunk_index,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score,omitempty"`
	Resolved   bool    `json:"resolved"`
	Stale      bool    `json:"stale,omitempty"`
}

// ToolSet returns the sorted, de-duplicated tool names.
func ToolSet(tools ...string) []string {
	out := slices.Clone(tools)
	slices.Sort(out)
	return slices.Compact(out)
}

func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &e, nil
}
