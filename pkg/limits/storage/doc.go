// Package storage provides the durable counter store behind the daily quota.
//
// Two implementations of CounterStore are available:
//
//   - MemoryStore: process memory, lost on restart (tests, single-shot CLI use)
//   - SQLiteStore: a SQLite file in WAL mode; counters survive restarts
//
// Counters carry their own expiry. Expired rows read as zero and are removed
// by Cleanup, which the retention scheduler runs periodically.
package storage
