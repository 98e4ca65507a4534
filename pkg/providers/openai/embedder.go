package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/sextant/pkg/retry"

	"github.com/openai/openai-go"
)

// maxEmbeddingBatch is the number of inputs sent per request.
const maxEmbeddingBatch = 100

// Embedder implements providers.Embedder and retrieval.Embedder.
type Embedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	retry   retry.Policy
	logger  *slog.Logger
}

// NewEmbedder creates an embedder for model.
func NewEmbedder(client *openai.Client, model string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *Embedder {
	return &Embedder{
		client:  client,
		model:   model,
		timeout: timeout,
		retry:   policy,
		logger:  defaultLogger(logger, "providers.openai.embedder"),
	}
}

// EmbedBatch embeds texts, splitting into requests of at most 100 inputs.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbeddingBatch {
		end := min(start+maxEmbeddingBatch, len(texts))
		vectors, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp *openai.CreateEmbeddingResponse
	err := call(ctx, e.retry, "embeddings", e.timeout, func(ctx context.Context) error {
		var err error
		resp, err = e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = toFloat32(d.Embedding)
	}
	e.logger.DebugContext(ctx, "embedded texts", "count", len(texts), "prompt_tokens", resp.Usage.PromptTokens)
	return vectors, nil
}

// toFloat32 converts the SDK's float64 vectors to the float32 used by the
// vector index.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
