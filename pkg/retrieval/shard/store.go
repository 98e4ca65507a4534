package shard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ChunkRecord is one stored passage.
type ChunkRecord struct {
	ShardID          string            `json:"shard_id"`
	DocumentID       string            `json:"document_id"`
	GlobalChunkIndex int64             `json:"global_chunk_index"`
	Text             string            `json:"text"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	IngestGeneration int64             `json:"ingest_generation"`
}

// Fetcher resolves a chunk by its rank within a document.
type Fetcher interface {
	FetchByRank(ctx context.Context, documentID string, rank int64) (*ChunkRecord, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	document_id TEXT NOT NULL,
	global_chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	ingest_generation INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (document_id, global_chunk_index)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_global ON chunks(global_chunk_index);
`

// StoreConfig configures one shard database.
type StoreConfig struct {
	// ShardID is recorded on every returned chunk.
	ShardID string

	// Path is the SQLite file.
	Path string

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5 seconds
	BusyTimeout time.Duration

	Logger *slog.Logger
}

// Store is the text store for one shard (or one replica of it).
type Store struct {
	id     string
	path   string
	db     *sql.DB
	logger *slog.Logger

	fetchStmt *sql.Stmt
	closeOnce sync.Once
}

// Open opens or creates a shard database.
func Open(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, newStorageError(cfg.ShardID, "open", errors.New("path cannot be empty"))
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "retrieval.shard", "shard_id", cfg.ShardID)

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, newStorageError(cfg.ShardID, "open", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, newStorageError(cfg.ShardID, "create_schema", err)
	}

	// Rank lookup: the rank-th chunk of a document in ascending global order.
	fetchStmt, err := db.Prepare(`
		SELECT global_chunk_index, text, metadata, ingest_generation
		FROM chunks
		WHERE document_id = ?
		ORDER BY global_chunk_index ASC
		LIMIT 1 OFFSET ?
	`)
	if err != nil {
		db.Close()
		return nil, newStorageError(cfg.ShardID, "prepare", err)
	}

	logger.Debug("shard store opened", "path", cfg.Path)
	return &Store{
		id:        cfg.ShardID,
		path:      cfg.Path,
		db:        db,
		logger:    logger,
		fetchStmt: fetchStmt,
	}, nil
}

// ID returns the shard ID.
func (s *Store) ID() string { return s.id }

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// FetchByRank returns the chunk at position rank among the document's chunks
// ordered by global index. Ranks are dense even when global indices are not.
func (s *Store) FetchByRank(ctx context.Context, documentID string, rank int64) (*ChunkRecord, error) {
	if rank < 0 {
		return nil, fmt.Errorf("negative rank %d: %w", rank, ErrNotFound)
	}

	rec := &ChunkRecord{ShardID: s.id, DocumentID: documentID}
	var metadata string
	err := s.fetchStmt.QueryRowContext(ctx, documentID, rank).
		Scan(&rec.GlobalChunkIndex, &rec.Text, &metadata, &rec.IngestGeneration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %q rank %d: %w", documentID, rank, ErrNotFound)
	}
	if err != nil {
		return nil, newStorageError(s.id, "fetch", err)
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			s.logger.Warn("ignoring malformed chunk metadata",
				"document_id", documentID,
				"global_chunk_index", rec.GlobalChunkIndex,
				"error", err,
			)
		}
	}
	return rec, nil
}

// Insert writes chunks in one transaction. A global index that is already
// stored fails the whole batch.
func (s *Store) Insert(ctx context.Context, chunks []ChunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newStorageError(s.id, "begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (document_id, global_chunk_index, text, metadata, ingest_generation)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return newStorageError(s.id, "prepare_insert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		metadata := []byte("{}")
		if len(c.Metadata) > 0 {
			if metadata, err = json.Marshal(c.Metadata); err != nil {
				return fmt.Errorf("failed to encode metadata for %s/%d: %w", c.DocumentID, c.GlobalChunkIndex, err)
			}
		}
		generation := c.IngestGeneration
		if generation == 0 {
			generation = 1
		}
		if _, err := stmt.ExecContext(ctx, c.DocumentID, c.GlobalChunkIndex, c.Text, string(metadata), generation); err != nil {
			return newStorageError(s.id, "insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newStorageError(s.id, "commit", err)
	}
	return nil
}

// DeleteDocument removes every chunk of a document and returns how many were
// removed.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, newStorageError(s.id, "delete", err)
	}
	return res.RowsAffected()
}

// MaxGlobalIndex returns the highest global index in the shard, or -1 when
// the shard is empty.
func (s *Store) MaxGlobalIndex(ctx context.Context) (int64, error) {
	var maxIdx sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(global_chunk_index) FROM chunks`).Scan(&maxIdx); err != nil {
		return 0, newStorageError(s.id, "max_index", err)
	}
	if !maxIdx.Valid {
		return -1, nil
	}
	return maxIdx.Int64, nil
}

// IndexOwner returns the document holding a global index, or "" when the
// index is free.
func (s *Store) IndexOwner(ctx context.Context, globalIndex int64) (string, error) {
	var docID string
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id FROM chunks WHERE global_chunk_index = ?`, globalIndex).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", newStorageError(s.id, "index_owner", err)
	}
	return docID, nil
}

// DocumentGeneration returns the ingest generation of a document, or 0 when
// the document is not stored.
func (s *Store) DocumentGeneration(ctx context.Context, documentID string) (int64, error) {
	var gen sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ingest_generation) FROM chunks WHERE document_id = ?`, documentID).Scan(&gen)
	if err != nil {
		return 0, newStorageError(s.id, "generation", err)
	}
	return gen.Int64, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, newStorageError(s.id, "count", err)
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return newStorageError(s.id, "ping", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.fetchStmt.Close()
		err = s.db.Close()
	})
	return err
}
