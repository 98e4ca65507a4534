package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mercator-hq/sextant/pkg/config"
	"mercator-hq/sextant/pkg/retry"
)

// Tavily calls the Tavily search API.
type Tavily struct {
	apiKey  string
	baseURL string
	domains []string
	client  *http.Client
	retry   retry.Policy
	logger  *slog.Logger
}

// NewTavily constructs a Tavily searcher from the search config.
func NewTavily(cfg config.SearchConfig, policy retry.Policy, logger *slog.Logger) *Tavily {
	return NewTavilyWithClient(cfg, &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)}, policy, logger)
}

// NewTavilyWithClient uses the supplied HTTP client.
func NewTavilyWithClient(cfg config.SearchConfig, client *http.Client, policy retry.Policy, logger *slog.Logger) *Tavily {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultSearchBaseURL
	}
	return &Tavily{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		domains: cfg.DomainFilters,
		client:  client,
		retry:   policy,
		logger:  logger.With("component", "search.tavily"),
	}
}

type tavilyRequest struct {
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search posts a query to Tavily. 429 and 5xx responses are retried by the
// policy; other failures are returned at once.
func (t *Tavily) Search(ctx context.Context, req Request) ([]Result, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, fmt.Errorf("%w: tavily API key is missing", ErrUnavailable)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.New("search query is empty")
	}

	domains := req.Domains
	if len(domains) == 0 {
		domains = t.domains
	}
	payload, err := json.Marshal(tavilyRequest{
		Query:          req.Query,
		SearchDepth:    req.Depth,
		MaxResults:     req.MaxResults,
		IncludeDomains: domains,
	})
	if err != nil {
		return nil, err
	}

	var out tavilyResponse
	err = t.retry.Do(ctx, "tavily.search", func(ctx context.Context) error {
		return t.post(ctx, payload, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	results := make([]Result, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
		if req.MaxResults > 0 && len(results) >= req.MaxResults {
			break
		}
	}
	t.logger.DebugContext(ctx, "web search finished", "depth", req.Depth, "results", len(results))
	return results, nil
}

func (t *Tavily) post(ctx context.Context, payload []byte, out *tavilyResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("tavily http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return err
		}
		return retry.Permanent(err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("failed to decode tavily response: %w", err))
	}
	return nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return config.DefaultSearchTimeout
	}
	return d
}
