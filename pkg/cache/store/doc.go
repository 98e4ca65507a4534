// Package store provides the byte-level backends behind the response cache:
// an in-memory TTL+LRU map and a SQLite table with an expires_at column.
package store
