// Package shard stores passage text for the hybrid retrieval service.
//
// Each shard is a SQLite database of chunks keyed by document and a
// shard-wide, ascending global chunk index. The vector index does not carry
// global indices; it carries the local rank of a chunk within its document,
// and FetchByRank turns that rank back into a row:
//
//	SELECT ... WHERE document_id = ? ORDER BY global_chunk_index ASC LIMIT 1 OFFSET rank
//
// This only holds while a document's chunks keep their order. Re-ingesting a
// document replaces all of its chunks and bumps its ingest generation; the
// retrieval service compares that generation with the one stored in the
// vector payload and flags mismatched passages as stale.
package shard
