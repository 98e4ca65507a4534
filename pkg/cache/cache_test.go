package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mercator-hq/sextant/pkg/cache/store"
	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// brokenBackend fails every call.
type brokenBackend struct{}

var errBroken = errors.New("disk on fire")

func (brokenBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errBroken }
func (brokenBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errBroken
}
func (brokenBackend) Delete(context.Context, string) error { return errBroken }
func (brokenBackend) Cleanup(context.Context, time.Time) (int, error) {
	return 0, errBroken
}
func (brokenBackend) Len(context.Context) (int, error) { return 0, errBroken }
func (brokenBackend) Ping(context.Context) error       { return errBroken }
func (brokenBackend) Close() error                     { return nil }

func TestNewKey_Determinism(t *testing.T) {
	base := NewKey("What is the minimum wage?", "auto", "ON")

	tests := []struct {
		name      string
		key       Key
		wantEqual bool
	}{
		{"identical", NewKey("What is the minimum wage?", "auto", "ON"), true},
		{"case variant", NewKey("WHAT is the Minimum Wage?", "auto", "on"), true},
		{"whitespace variant", NewKey("  What is   the\tminimum wage?\n", "auto", " ON "), true},
		{"different mode", NewKey("What is the minimum wage?", "medium", "ON"), false},
		{"different jurisdiction", NewKey("What is the minimum wage?", "auto", "BC"), false},
		{"no jurisdiction", NewKey("What is the minimum wage?", "auto", ""), false},
		{"different text", NewKey("What is the maximum wage?", "auto", "ON"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.key == base) != tt.wantEqual {
				t.Errorf("Expected equal=%v, got key %s vs %s", tt.wantEqual, tt.key.Short(), base.Short())
			}
		})
	}
	if len(base) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(base))
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Hello   World ", "hello world"},
		{"A\tB\nC", "a b c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTTLPolicy_For(t *testing.T) {
	modes := config.DefaultModes()
	p := PolicyFromConfig(config.CacheConfig{
		BaseTTL:      time.Hour,
		RecencyTTL:   10 * time.Minute,
		RecencyTerms: config.DefaultRecencyTerms,
	}, modes)

	tests := []struct {
		text string
		mode string
		want time.Duration
	}{
		{"what is the minimum wage", "auto", time.Hour},
		{"what is the minimum wage", "medium", 90 * time.Minute},
		{"compare wage laws", "deep", 2 * time.Hour},
		{"compare wage laws", "workflow", 2 * time.Hour},
		{"latest minimum wage news", "deep", 10 * time.Minute},
		{"minimum wage changes this week", "auto", 10 * time.Minute},
		{"current minimum wage?", "medium", 10 * time.Minute},
		{"currently unrelated phrasing", "auto", time.Hour},
		{"unknown mode falls back", "bogus", time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.text+"/"+tt.mode, func(t *testing.T) {
			if got := p.For(tt.text, tt.mode); got != tt.want {
				t.Errorf("For(%q, %q) = %v, want %v", tt.text, tt.mode, got, tt.want)
			}
		})
	}
}

func TestTTLPolicy_Update(t *testing.T) {
	p := NewTTLPolicy(time.Hour, 10*time.Minute, []string{"news"}, nil)
	p.Update(2*time.Hour, time.Minute, []string{"today"}, map[string]float64{"auto": 0.5})

	if got := p.For("wage", "auto"); got != time.Hour {
		t.Errorf("Expected 1h, got %v", got)
	}
	if got := p.For("wage news", "auto"); got != time.Hour {
		t.Errorf("Expected news to no longer be a recency term, got %v", got)
	}
	if got := p.For("wage today", "auto"); got != time.Minute {
		t.Errorf("Expected 1m, got %v", got)
	}
}

func TestCache_SetGetInvalidate(t *testing.T) {
	backend := store.NewMemoryStore(0)
	defer backend.Close()
	c := New(backend, nil, WithLogger(quietLogger()))
	ctx := context.Background()
	key := NewKey("What is the minimum wage?", "auto", "")

	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("Expected miss on empty cache")
	}

	c.Set(ctx, key, &Entry{
		Response: "The minimum wage is $17.20 per hour.",
		Metadata: Metadata{Mode: "auto", StepsUsed: 2, ToolsCalled: []string{"web_search", "generate", "web_search"}},
		Sources:  []Source{{Kind: "web", URL: "https://example.gov/wage", Text: "17.20", Resolved: true}},
	}, time.Hour)

	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("Expected hit")
	}
	if got.Response != "The minimum wage is $17.20 per hour." {
		t.Errorf("Expected response, got %q", got.Response)
	}
	if got.TTLSeconds != 3600 {
		t.Errorf("Expected TTLSeconds 3600, got %d", got.TTLSeconds)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
	wantTools := []string{"generate", "web_search"}
	if len(got.Metadata.ToolsCalled) != 2 || got.Metadata.ToolsCalled[0] != wantTools[0] || got.Metadata.ToolsCalled[1] != wantTools[1] {
		t.Errorf("Expected tools %v, got %v", wantTools, got.Metadata.ToolsCalled)
	}
	if len(got.Sources) != 1 || got.Sources[0].URL != "https://example.gov/wage" {
		t.Errorf("Expected source to round-trip, got %+v", got.Sources)
	}

	c.Invalidate(ctx, key)
	if _, ok := c.Get(ctx, key); ok {
		t.Error("Expected miss after Invalidate")
	}
}

func TestCache_IdempotentOverwrite(t *testing.T) {
	backend := store.NewMemoryStore(0)
	defer backend.Close()
	c := New(backend, nil, WithLogger(quietLogger()))
	ctx := context.Background()
	key := NewKey("q", "auto", "")
	entry := &Entry{Response: "same answer", Metadata: Metadata{Mode: "auto"}}

	c.Set(ctx, key, entry, time.Hour)
	first, _ := c.Get(ctx, key)
	c.Set(ctx, key, entry, time.Hour)
	second, _ := c.Get(ctx, key)

	if first.Response != second.Response || first.Metadata.Mode != second.Metadata.Mode {
		t.Errorf("Expected identical entries, got %+v and %+v", first, second)
	}
	if n, _ := backend.Len(ctx); n != 1 {
		t.Errorf("Expected a single entry, got %d", n)
	}

	// Last writer wins.
	c.Set(ctx, key, &Entry{Response: "newer answer"}, time.Hour)
	third, _ := c.Get(ctx, key)
	if third.Response != "newer answer" {
		t.Errorf("Expected last write to win, got %q", third.Response)
	}
}

func TestCache_ConcurrentWritersSameKey(t *testing.T) {
	backend := store.NewMemoryStore(0)
	defer backend.Close()
	c := New(backend, nil, WithLogger(quietLogger()))
	ctx := context.Background()
	key := NewKey("q", "auto", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Set(ctx, key, &Entry{Response: "answer"}, time.Hour)
			c.Get(ctx, key)
		}()
	}
	wg.Wait()

	if got, ok := c.Get(ctx, key); !ok || got.Response != "answer" {
		t.Errorf("Expected a complete entry, got %+v ok=%v", got, ok)
	}
}

func TestCache_BackendFailureIsSwallowed(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test"}, registry)
	c := New(brokenBackend{}, nil, WithLogger(quietLogger()), WithMetrics(collector))
	ctx := context.Background()
	key := NewKey("q", "auto", "")

	c.Set(ctx, key, &Entry{Response: "x"}, time.Hour)
	if _, ok := c.Get(ctx, key); ok {
		t.Error("Expected miss from broken backend")
	}
	c.Invalidate(ctx, key)

	n, err := testutil.GatherAndCount(registry, "test_cache_errors_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Expected error series for get, set and delete, got %d", n)
	}
}

func TestCache_CorruptEntryIsDropped(t *testing.T) {
	backend := store.NewMemoryStore(0)
	defer backend.Close()
	c := New(backend, nil, WithLogger(quietLogger()))
	ctx := context.Background()
	key := NewKey("q", "auto", "")

	backend.Set(ctx, string(key), []byte("{not json"), time.Hour)

	if _, ok := c.Get(ctx, key); ok {
		t.Error("Expected corrupt entry to read as a miss")
	}
	if n, _ := backend.Len(ctx); n != 0 {
		t.Errorf("Expected corrupt entry removed, got %d entries", n)
	}
}

func TestCache_SetIgnoresNonPositiveTTL(t *testing.T) {
	backend := store.NewMemoryStore(0)
	defer backend.Close()
	c := New(backend, nil, WithLogger(quietLogger()))
	ctx := context.Background()

	c.Set(ctx, "k", &Entry{Response: "x"}, 0)
	c.Set(ctx, "k", nil, time.Hour)
	if n, _ := backend.Len(ctx); n != 0 {
		t.Errorf("Expected nothing stored, got %d", n)
	}
}
