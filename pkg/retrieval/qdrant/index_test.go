package qdrant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"mercator-hq/sextant/pkg/retrieval"
	"mercator-hq/sextant/pkg/retry"

	"github.com/qdrant/go-client/qdrant"
)

type fakeClient struct {
	failures int
	calls    int
	last     *qdrant.QueryBatchPoints
	results  []*qdrant.BatchResult
}

func (f *fakeClient) QueryBatch(_ context.Context, req *qdrant.QueryBatchPoints) ([]*qdrant.BatchResult, error) {
	f.calls++
	f.last = req
	if f.calls <= f.failures {
		return nil, errors.New("unavailable")
	}
	return f.results, nil
}

func (f *fakeClient) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{Title: "qdrant"}, nil
}

func (f *fakeClient) Close() error { return nil }

func point(payload map[string]any, score float32) *qdrant.ScoredPoint {
	return &qdrant.ScoredPoint{
		Id:      qdrant.NewIDNum(1),
		Payload: qdrant.NewValueMap(payload),
		Score:   score,
	}
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSearchBatch_MapsPayload(t *testing.T) {
	fc := &fakeClient{results: []*qdrant.BatchResult{
		{Result: []*qdrant.ScoredPoint{
			point(map[string]any{"shard_id": "ca", "document_id": "D", "local_chunk_index": 1, "ingest_generation": 2}, 0.91),
			point(map[string]any{"shard_id": "ca", "document_id": "D"}, 0.5),
		}},
		{Result: nil},
	}}
	x := newIndex(fc, "passages", "content", fastPolicy(), nil)

	hits, err := x.SearchBatch(context.Background(), [][]float32{{0.1, 0.2}, {0.3, 0.4}}, 5, &retrieval.Filter{Jurisdiction: "ON", ShardIDs: []string{"ca"}})
	if err != nil {
		t.Fatalf("SearchBatch() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Expected 2 hit lists, got %d", len(hits))
	}
	if len(hits[0]) != 1 {
		t.Fatalf("Expected incomplete point skipped, got %d hits", len(hits[0]))
	}
	want := retrieval.VectorHit{ShardID: "ca", DocumentID: "D", LocalChunkIndex: 1, Score: 0.91, IngestGeneration: 2}
	if hits[0][0] != want {
		t.Errorf("Expected %+v, got %+v", want, hits[0][0])
	}
	if len(hits[1]) != 0 {
		t.Errorf("Expected empty second list, got %d", len(hits[1]))
	}

	if len(fc.last.QueryPoints) != 2 {
		t.Fatalf("Expected 2 queries in the batch, got %d", len(fc.last.QueryPoints))
	}
	q := fc.last.QueryPoints[0]
	if q.GetLimit() != 5 || q.GetUsing() != "content" {
		t.Errorf("Expected limit 5 using content, got %d using %q", q.GetLimit(), q.GetUsing())
	}
	if len(q.GetFilter().GetMust()) != 2 {
		t.Errorf("Expected 2 filter conditions, got %d", len(q.GetFilter().GetMust()))
	}
}

func TestSearchBatch_Retries(t *testing.T) {
	fc := &fakeClient{failures: 2, results: []*qdrant.BatchResult{{}}}
	x := newIndex(fc, "passages", "", fastPolicy(), nil)

	if _, err := x.SearchBatch(context.Background(), [][]float32{{1}}, 3, nil); err != nil {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if fc.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", fc.calls)
	}
	if fc.last.QueryPoints[0].Using != nil {
		t.Error("Expected default vector when no name is configured")
	}
}

func TestSearchBatch_GivesUp(t *testing.T) {
	fc := &fakeClient{failures: 10}
	x := newIndex(fc, "passages", "", fastPolicy(), nil)

	if _, err := x.SearchBatch(context.Background(), [][]float32{{1}}, 3, nil); err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if fc.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", fc.calls)
	}
}

func TestSearchBatch_ResultCountMismatch(t *testing.T) {
	fc := &fakeClient{results: []*qdrant.BatchResult{{}}}
	x := newIndex(fc, "passages", "", fastPolicy(), nil)

	if _, err := x.SearchBatch(context.Background(), [][]float32{{1}, {2}}, 3, nil); err == nil {
		t.Error("Expected error on result count mismatch")
	}
}

func TestBuildFilter(t *testing.T) {
	if buildFilter(nil) != nil {
		t.Error("Expected nil filter for nil input")
	}
	if buildFilter(&retrieval.Filter{}) != nil {
		t.Error("Expected nil filter for empty input")
	}
	if f := buildFilter(&retrieval.Filter{Jurisdiction: "ON"}); len(f.GetMust()) != 1 {
		t.Errorf("Expected 1 condition, got %d", len(f.GetMust()))
	}
	if buildFilter(&retrieval.Filter{Jurisdiction: "   "}) != nil {
		t.Error("Expected nil filter for blank jurisdiction")
	}

	for _, j := range []string{"ON", "on", " On "} {
		must := buildFilter(&retrieval.Filter{Jurisdiction: j}).GetMust()
		if len(must) != 1 {
			t.Fatalf("Expected 1 condition for %q, got %d", j, len(must))
		}
		field := must[0].GetField()
		if field.GetKey() != FieldJurisdiction || field.GetMatch().GetKeyword() != "on" {
			t.Errorf("Expected %s match on \"on\" for %q, got %s=%q", FieldJurisdiction, j, field.GetKey(), field.GetMatch().GetKeyword())
		}
	}
}

func TestPing(t *testing.T) {
	x := newIndex(&fakeClient{}, "passages", "", fastPolicy(), nil)
	if err := x.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
