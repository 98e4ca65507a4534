// Package providers defines the model collaborators used by the workflow
// executor and the retrieval service, and the error types their adapters
// return.
//
// The only adapter is providers/openai, which serves both Generator (chat
// completions) and Embedder (embeddings).
//
// # Errors
//
// Adapters return *UpstreamError. Its Kind comes from the HTTP status via
// KindForStatus; only unavailable, rate-limited and timed-out calls are
// retried, and only those match ErrUnavailable.
package providers
