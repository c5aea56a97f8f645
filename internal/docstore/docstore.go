// Package docstore provides the SQLite-backed document store: the source of
// truth mapping document IDs to full passage text and provenance. Every entry
// in the vector index has exactly one corresponding document here; the
// startup integrity check in internal/index enforces that pairing.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/r4js/hyrag-go/internal/rag"
)

// SQLiteStore is a rag.DocumentStore backed by a local SQLite database.
// Each Put is a single upsert statement, so a crash mid-write never leaves a
// partially written document visible.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    content      TEXT    NOT NULL,
    source       TEXT    NOT NULL DEFAULT '',
    origin       TEXT    NOT NULL CHECK(origin IN ('offline-seed','online-cached')),
    model        TEXT    NOT NULL,
    ingested_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_documents_origin ON documents (origin);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}

// Put persists a document. Writing an ID that already exists is a no-op
// success — document content is immutable once stored, so the first write wins.
func (s *SQLiteStore) Put(ctx context.Context, doc rag.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("docstore: put: missing document ID: %w", rag.ErrInvalidInput)
	}
	ingested := doc.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}
	const q = `
INSERT INTO documents (id, content, source, origin, model, ingested_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.Content, doc.Source, string(doc.Origin), doc.Model, ingested.Unix()); err != nil {
		return fmt.Errorf("docstore: put %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns the document for id, or an error wrapping rag.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (rag.Document, error) {
	const q = `SELECT id, content, source, origin, model, ingested_at FROM documents WHERE id = ?`

	var doc rag.Document
	var origin string
	var ts int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&doc.ID, &doc.Content, &doc.Source, &origin, &doc.Model, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return rag.Document{}, fmt.Errorf("docstore: get %s: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return rag.Document{}, fmt.Errorf("docstore: get %s: %w", id, err)
	}
	doc.Origin = rag.Origin(origin)
	doc.IngestedAt = time.Unix(ts, 0)
	return doc, nil
}

// Contains reports whether a document with the given ID exists.
func (s *SQLiteStore) Contains(ctx context.Context, id string) (bool, error) {
	const q = `SELECT 1 FROM documents WHERE id = ?`
	var one int
	err := s.db.QueryRowContext(ctx, q, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("docstore: contains %s: %w", id, err)
	}
	return true, nil
}

// IDs returns the set of all stored document IDs.
func (s *SQLiteStore) IDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("docstore: ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("docstore: ids scan: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: ids rows: %w", err)
	}
	return ids, nil
}

// Count returns the number of stored documents.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("docstore: count: %w", err)
	}
	return n, nil
}

// Remove deletes a document by ID. Removing an absent ID is a no-op.
// Callers must remove the paired index entry in the same maintenance pass to
// preserve referential integrity.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("docstore: remove %s: %w", id, err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("docstore: close: %w", err)
	}
	return nil
}
