package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/alexgrimes/featmem/pattern"
	"github.com/alexgrimes/featmem/pkg/serialization"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS patterns (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	category   TEXT NOT NULL,
	confidence REAL NOT NULL,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patterns_category ON patterns(category);
`

// SQLiteSink persists pattern batches to a SQLite database, one upsert
// per pattern inside a single transaction per batch.
type SQLiteSink struct {
	db    *sql.DB
	codec serialization.Codec
}

// NewSQLiteSink opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteSink(ctx context.Context, path string, codec serialization.Codec) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteSink{db: db, codec: codec}, nil
}

// WriteBatch upserts every pattern in one transaction, so a failed batch
// leaves the database unchanged and can be retried whole.
func (s *SQLiteSink) WriteBatch(ctx context.Context, patterns []*pattern.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO patterns (id, source, category, confidence, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			category = excluded.category,
			confidence = excluded.confidence,
			data = excluded.data,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range patterns {
		data, err := s.codec.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal pattern %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.Metadata.Source, p.Metadata.Category,
			p.Confidence, data, p.Metadata.LastUpdated); err != nil {
			return fmt.Errorf("upsert pattern %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Read fetches one persisted pattern back by ID.
func (s *SQLiteSink) Read(ctx context.Context, id string) (*pattern.Pattern, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM patterns WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %s not persisted", id)
	}
	if err != nil {
		return nil, fmt.Errorf("read pattern %s: %w", id, err)
	}
	var p pattern.Pattern
	if err := s.codec.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pattern %s: %w", id, err)
	}
	return &p, nil
}

// Count returns how many patterns the database holds.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
