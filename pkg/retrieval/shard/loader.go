package shard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
)

// loadBatchSize bounds the rows written per transaction.
const loadBatchSize = 500

// MetadataJurisdiction is the metadata key holding a chunk's jurisdiction.
const MetadataJurisdiction = "jurisdiction"

// NormalizeJurisdiction lower-cases a jurisdiction, trims it and collapses
// inner whitespace. Stored metadata, retrieval filters and cache keys all
// use this form, so "CA-ON" and "ca-on" name the same jurisdiction.
func NormalizeJurisdiction(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// LoadRecord is one line of a JSONL ingestion file. GlobalChunkIndex is
// optional; when absent the loader assigns the next free index.
type LoadRecord struct {
	DocumentID       string            `json:"document_id"`
	Text             string            `json:"text"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	GlobalChunkIndex *int64            `json:"global_chunk_index,omitempty"`
}

// LoadStats summarizes a Load call.
type LoadStats struct {
	Documents int
	Chunks    int
	Replaced  int64
}

// Load ingests JSONL records into store. Chunks keep file order within a
// document. A document that already exists is replaced and its ingest
// generation incremented, so vector payloads embedded from the old
// generation are detected as stale at retrieval time.
//
// Explicit indices are checked before anything is written: an index claimed
// twice in the input, or held by a stored document that this load does not
// replace, fails the load with ErrIndexTaken. Assigned indices skip the
// explicit ones.
func Load(ctx context.Context, r io.Reader, store *Store) (*LoadStats, error) {
	var (
		order []string
		docs  = make(map[string][]LoadRecord)
		dec   = json.NewDecoder(r)
		line  int
	)
	for {
		var rec LoadRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		if rec.DocumentID == "" {
			return nil, fmt.Errorf("record %d: document_id is required", line)
		}
		if _, seen := docs[rec.DocumentID]; !seen {
			order = append(order, rec.DocumentID)
		}
		docs[rec.DocumentID] = append(docs[rec.DocumentID], rec)
	}

	explicit, err := claimedIndices(ctx, store, order, docs)
	if err != nil {
		return nil, err
	}

	next, err := store.MaxGlobalIndex(ctx)
	if err != nil {
		return nil, err
	}
	next++

	stats := &LoadStats{}
	generations := make(map[string]int64, len(order))
	for _, docID := range order {
		prev, err := store.DocumentGeneration(ctx, docID)
		if err != nil {
			return nil, err
		}
		generations[docID] = prev
		if prev == 0 {
			continue
		}
		// Old chunks go first so ranks only see the new generation and
		// explicit indices they held are free again.
		n, err := store.DeleteDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		stats.Replaced += n
		store.logger.Warn("re-ingesting document, ranks from the previous generation are now stale",
			"document_id", docID,
			"previous_generation", prev,
		)
	}

	batch := make([]ChunkRecord, 0, loadBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.Insert(ctx, batch); err != nil {
			return err
		}
		stats.Chunks += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, docID := range order {
		for _, rec := range docs[docID] {
			var idx int64
			if rec.GlobalChunkIndex != nil {
				idx = *rec.GlobalChunkIndex
			} else {
				for explicit[next] != "" {
					next++
				}
				idx = next
			}
			if idx >= next {
				next = idx + 1
			}
			batch = append(batch, ChunkRecord{
				ShardID:          store.ID(),
				DocumentID:       docID,
				GlobalChunkIndex: idx,
				Text:             rec.Text,
				Metadata:         normalizeMetadata(rec.Metadata),
				IngestGeneration: generations[docID] + 1,
			})
			if len(batch) == loadBatchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
		stats.Documents++
	}
	if err := flush(); err != nil {
		return nil, err
	}

	store.logger.Info("shard load complete",
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"replaced", stats.Replaced,
	)
	return stats, nil
}

// claimedIndices collects the explicit indices of the input and checks each
// is free: not claimed twice, and not held by a stored document outside this
// load.
func claimedIndices(ctx context.Context, store *Store, order []string, docs map[string][]LoadRecord) (map[int64]string, error) {
	explicit := make(map[int64]string)
	for _, docID := range order {
		for _, rec := range docs[docID] {
			if rec.GlobalChunkIndex == nil {
				continue
			}
			idx := *rec.GlobalChunkIndex
			if idx < 0 {
				return nil, fmt.Errorf("document %q: global_chunk_index %d is negative", docID, idx)
			}
			if other, dup := explicit[idx]; dup {
				return nil, fmt.Errorf("%w: %d claimed by %q and %q", ErrIndexTaken, idx, other, docID)
			}
			explicit[idx] = docID

			owner, err := store.IndexOwner(ctx, idx)
			if err != nil {
				return nil, err
			}
			if _, replaced := docs[owner]; owner != "" && !replaced {
				return nil, fmt.Errorf("%w: %d is held by stored document %q", ErrIndexTaken, idx, owner)
			}
		}
	}
	return explicit, nil
}

func normalizeMetadata(md map[string]string) map[string]string {
	j, ok := md[MetadataJurisdiction]
	if !ok {
		return md
	}
	md = maps.Clone(md)
	md[MetadataJurisdiction] = NormalizeJurisdiction(j)
	return md
}
