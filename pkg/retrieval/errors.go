package retrieval

import "errors"

var (
	// ErrEmbedding is set on a Result whose text could not be embedded.
	ErrEmbedding = errors.New("embedding failed")

	// ErrVectorSearch is set on a Result whose vector search failed.
	ErrVectorSearch = errors.New("vector search failed")
)
