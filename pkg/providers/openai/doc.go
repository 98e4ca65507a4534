// Package openai adapts the OpenAI API (through github.com/openai/openai-go)
// to providers.Generator and providers.Embedder.
//
//	client, err := openai.NewClient(openai.Config{APIKey: cfg.Generation.APIKey})
//	gen := openai.NewGenerator(client, openai.GeneratorConfig{Model: cfg.Generation.Model, Retry: policy})
//	emb := openai.NewEmbedder(client, cfg.Retrieval.EmbeddingModel, cfg.Generation.Timeout, policy, logger)
//
// SDK retries are turned off; both adapters retry through retry.Policy and
// map SDK errors onto the providers error types.
package openai
