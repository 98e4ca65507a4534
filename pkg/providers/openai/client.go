package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/sextant/pkg/providers"
	"mercator-hq/sextant/pkg/retry"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const providerName = "openai"

// Config configures the OpenAI client shared by Generator and Embedder.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the transport, for tests.
	HTTPClient *http.Client
}

// NewClient builds an openai-go client. Retries are disabled in the SDK and
// handled by retry.Policy at each call site.
func NewClient(cfg Config) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, &providers.UpstreamError{Provider: providerName, Op: "configure", Kind: providers.KindMisconfigured, Message: "API key is required"}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)
	return &client, nil
}

// call runs op under the retry policy and maps the final error.
func call(ctx context.Context, policy retry.Policy, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	return policy.Do(ctx, providerName+"."+op, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		mapped := mapError(op, err, timeout)
		var ue *providers.UpstreamError
		if !errors.As(mapped, &ue) || !ue.Retryable() {
			return retry.Permanent(mapped)
		}
		return mapped
	})
}

// mapError converts SDK errors into an UpstreamError. Cancellation passes
// through untouched.
func mapError(op string, err error, timeout time.Duration) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		ue := &providers.UpstreamError{
			Provider:   providerName,
			Op:         op,
			Kind:       providers.KindForStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Cause:      err,
		}
		if ue.Kind == providers.KindRateLimited {
			ue.RetryAfter = retryAfter(apiErr.Response)
		}
		return ue
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &providers.UpstreamError{
			Provider: providerName,
			Op:       op,
			Kind:     providers.KindTimeout,
			Message:  "no answer within " + timeout.String(),
			Cause:    err,
		}
	}
	return &providers.UpstreamError{Provider: providerName, Op: op, Kind: providers.KindUnavailable, Message: "request failed", Cause: err}
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func defaultLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", component)
}

func errNoChoices() error {
	return &providers.UpstreamError{Provider: providerName, Op: "chat", Kind: providers.KindUnavailable, Message: "completion returned no choices"}
}
