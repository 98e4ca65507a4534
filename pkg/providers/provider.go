package providers

import "context"

// Generator produces text from a prompt.
//
// maxTokens caps the completion length; tokensUsed reports the completion
// tokens the provider charged, which is what the generation quota meters.
// Implementations retry transient failures themselves and must respect
// context cancellation.
//
//	text, used, err := gen.Generate(ctx, prompt, budget)
//	if err != nil {
//	    return err
//	}
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (text string, tokensUsed int, err error)
}

// Embedder turns texts into vectors, one per text in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
