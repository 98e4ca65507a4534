package openai

import (
	"context"
	"log/slog"
	"time"

	"mercator-hq/sextant/pkg/retry"

	"github.com/openai/openai-go"
)

// Generator implements providers.Generator with chat completions.
type Generator struct {
	client       *openai.Client
	model        string
	systemPrompt string
	timeout      time.Duration
	retry        retry.Policy
	logger       *slog.Logger
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	// Model is the chat model name.
	Model string

	// SystemPrompt is sent before every prompt when set.
	SystemPrompt string

	// Timeout is reported in timeout errors; the SDK enforces it.
	Timeout time.Duration

	Retry  retry.Policy
	Logger *slog.Logger
}

// DefaultSystemPrompt frames every generation.
const DefaultSystemPrompt = "You are a careful research assistant. Answer from the supplied sources, cite them, and say so when the sources do not answer the question."

// NewGenerator creates a generator.
func NewGenerator(client *openai.Client, cfg GeneratorConfig) *Generator {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Generator{
		client:       client,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
		retry:        cfg.Retry,
		logger:       defaultLogger(cfg.Logger, "providers.openai.generator"),
	}
}

// Generate sends one chat completion capped at maxTokens.
func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.systemPrompt),
			openai.UserMessage(prompt),
		},
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	var resp *openai.ChatCompletion
	err := call(ctx, g.retry, "chat", g.timeout, func(ctx context.Context) error {
		var err error
		resp, err = g.client.Chat.Completions.New(ctx, params)
		return err
	})
	if err != nil {
		return "", 0, err
	}
	if len(resp.Choices) == 0 {
		return "", 0, errNoChoices()
	}

	used := int(resp.Usage.TotalTokens)
	g.logger.DebugContext(ctx, "generation finished",
		"model", resp.Model,
		"total_tokens", used,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return resp.Choices[0].Message.Content, used, nil
}
