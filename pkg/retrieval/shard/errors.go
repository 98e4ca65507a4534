package shard

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by FetchByRank when the document has fewer chunks
// than rank+1 in the store.
var ErrNotFound = errors.New("chunk not found")

// ErrIndexTaken is returned by Load when an explicit global_chunk_index is
// already held by another document. Overwriting it would shift the ranks of
// that document and misresolve its indexed vectors.
var ErrIndexTaken = errors.New("global chunk index already taken")

// StorageError is a shard database failure.
type StorageError struct {
	Shard     string // Shard ID
	Operation string // "open", "fetch", "insert", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("shard storage error [shard=%s, operation=%s]: %v", e.Shard, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

func newStorageError(shard, op string, cause error) *StorageError {
	return &StorageError{Shard: shard, Operation: op, Cause: cause}
}
