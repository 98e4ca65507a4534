// Package search defines the web search collaborator and its Tavily adapter.
package search

import (
	"context"
	"errors"
)

// Depth values understood by providers.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

var (
	// ErrUnavailable is returned when the provider cannot be reached or
	// keeps failing after retries.
	ErrUnavailable = errors.New("web search unavailable")

	// ErrDisabled is returned by Disabled.
	ErrDisabled = errors.New("web search disabled")
)

// Request is one web search.
type Request struct {
	Query      string
	Depth      string
	MaxResults int
	Domains    []string
}

// Result is one web hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, req Request) ([]Result, error)
}

// Disabled is a Searcher that always fails with ErrDisabled. Workflow steps
// treat the failure like any other search error and continue on retrieval
// alone.
type Disabled struct{}

// Search implements Searcher.
func (Disabled) Search(context.Context, Request) ([]Result, error) {
	return nil, ErrDisabled
}
