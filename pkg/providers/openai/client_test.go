package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/sextant/pkg/providers"
	"mercator-hq/sextant/pkg/retry"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Logger: discard()}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Generator, *Embedder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{APIKey: "sk-test-123456", BaseURL: srv.URL + "/", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	gen := NewGenerator(client, GeneratorConfig{Model: "gpt-4o-mini", Retry: testPolicy(), Logger: discard()})
	emb := NewEmbedder(client, "text-embedding-3-small", 5*time.Second, testPolicy(), discard())
	return gen, emb
}

const completionBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "The general minimum wage in Ontario is $17.20 per hour."}}],
	"usage": {"prompt_tokens": 120, "completion_tokens": 14, "total_tokens": 134}
}`

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	if kind, ok := providers.KindOf(err); !ok || kind != providers.KindMisconfigured {
		t.Fatalf("Expected misconfigured error, got %v", err)
	}
}

func TestGenerator_Generate(t *testing.T) {
	var body map[string]any
	gen, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test-123456" {
			t.Errorf("Expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody)
	})

	text, used, err := gen.Generate(context.Background(), "What is the minimum wage in Ontario?", 500)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "The general minimum wage in Ontario is $17.20 per hour." {
		t.Errorf("Unexpected text %q", text)
	}
	if used != 134 {
		t.Errorf("Expected 134 total tokens, got %d", used)
	}
	if body["max_completion_tokens"] != float64(500) {
		t.Errorf("Expected max_completion_tokens 500, got %v", body["max_completion_tokens"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("Expected system and user messages, got %v", body["messages"])
	}
}

func TestGenerator_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gen, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, `{"error":{"message":"upstream","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody)
	})

	if _, _, err := gen.Generate(context.Background(), "q", 100); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 calls, got %d", calls.Load())
	}
}

func TestGenerator_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
		check     func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, 1, func(err error) bool {
			kind, ok := providers.KindOf(err)
			return ok && kind == providers.KindAuth
		}},
		{"rate limited", http.StatusTooManyRequests, 3, func(err error) bool {
			kind, ok := providers.KindOf(err)
			return ok && kind == providers.KindRateLimited && errors.Is(err, providers.ErrUnavailable)
		}},
		{"bad request", http.StatusBadRequest, 1, func(err error) bool {
			var e *providers.UpstreamError
			return errors.As(err, &e) && e.Kind == providers.KindRejected && e.StatusCode == http.StatusBadRequest
		}},
		{"unavailable", http.StatusServiceUnavailable, 3, func(err error) bool {
			return errors.Is(err, providers.ErrUnavailable)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			gen, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"error":{"message":"nope","type":"error"}}`)
			})

			_, _, err := gen.Generate(context.Background(), "q", 100)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !tt.check(err) {
				t.Errorf("Unexpected error type %T: %v", err, err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("Expected %d calls, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestEmbedder_EmbedBatch(t *testing.T) {
	_, emb := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("Expected /embeddings, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose; results are placed by index.
		io.WriteString(w, `{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.5, 0.25]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 8, "total_tokens": 8}
		}`)
	})
	vectors, err := emb.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("Expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][0] != 0.5 || vectors[1][1] != 0.25 {
		t.Errorf("Unexpected vectors %v", vectors)
	}
}

func TestEmbedder_CountMismatch(t *testing.T) {
	_, emb := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[1]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`)
	})

	if _, err := emb.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("Expected error for missing embeddings")
	}
}
