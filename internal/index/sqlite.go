// Package index implements the durable nearest-neighbour store over document
// embeddings. The default backend keeps vectors in a local SQLite file and
// serves queries from an in-memory mirror with brute-force cosine scan; a
// Qdrant-backed implementation is available for larger deployments.
//
// Similarity metric: cosine on unit-normalised vectors. Vectors are
// normalised once at insert time and once per query, so scoring is a plain
// dot product. The metric is identical for insert and query by construction.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/r4js/hyrag-go/internal/rag"
)

// SQLiteIndex is a rag.VectorIndex backed by a local SQLite database with an
// in-memory mirror for search. Safe for concurrent use.
//
// The meta table pins the embedding model identifier and vector dimension the
// index was built with. Opening the index under a different model is refused
// (rag.ErrModelMismatch) — mixing vector spaces would silently corrupt every
// similarity score.
type SQLiteIndex struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// model is the embedding model identifier this index is versioned by.
	model string

	// dim is the fixed embedding dimension for all entries.
	dim int

	// mu protects entries and byID.
	mu sync.RWMutex

	// entries is the in-memory mirror in insertion order. Insertion order is
	// the tie-break for equal scores, so queries are deterministic.
	entries []indexEntry

	// byID maps document ID to its position in entries.
	byID map[string]int
}

// indexEntry is one (id, unit vector) pair of the in-memory mirror.
type indexEntry struct {
	id  string
	vec []float32
}

// Open opens (or creates) a SQLiteIndex at the given path, pinned to the
// given embedding model and dimension. Use ":memory:" in tests.
func Open(path, model string, dim int) (*SQLiteIndex, error) {
	if model == "" {
		return nil, fmt.Errorf("index: embedding model identifier must not be empty")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("index: dimension must be positive, got %d", dim)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	idx := &SQLiteIndex{
		db:    db,
		model: model,
		dim:   dim,
		byID:  make(map[string]int),
	}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := idx.checkModelPin(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := idx.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

// migrate creates the schema if it does not already exist.
func (x *SQLiteIndex) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS vectors (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT    NOT NULL UNIQUE,
    embedding  BLOB    NOT NULL
);
`
	if _, err := x.db.Exec(ddl); err != nil {
		return fmt.Errorf("index: migrate: %w", err)
	}
	return nil
}

// checkModelPin verifies the stored model/dimension pin, writing it on first
// open. A mismatch is refused rather than silently re-embedding or mixing.
func (x *SQLiteIndex) checkModelPin() error {
	storedModel, err := x.getMeta("model")
	if err != nil {
		return err
	}
	storedDim, err := x.getMeta("dimension")
	if err != nil {
		return err
	}

	if storedModel == "" {
		if err := x.setMeta("model", x.model); err != nil {
			return err
		}
		if err := x.setMeta("dimension", fmt.Sprintf("%d", x.dim)); err != nil {
			return err
		}
		return nil
	}

	if storedModel != x.model {
		return fmt.Errorf("index: built with model %q but configured model is %q — re-ingest or point at a fresh index: %w",
			storedModel, x.model, rag.ErrModelMismatch)
	}
	if storedDim != fmt.Sprintf("%d", x.dim) {
		return fmt.Errorf("index: built with dimension %s but configured dimension is %d: %w",
			storedDim, x.dim, rag.ErrModelMismatch)
	}
	return nil
}

// getMeta returns the meta value for key, or empty string if absent.
func (x *SQLiteIndex) getMeta(key string) (string, error) {
	var v string
	err := x.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: meta get %s: %w", key, err)
	}
	return v, nil
}

// setMeta writes a meta key.
func (x *SQLiteIndex) setMeta(key, value string) error {
	if _, err := x.db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("index: meta set %s: %w", key, err)
	}
	return nil
}

// load populates the in-memory mirror from disk in insertion (seq) order.
func (x *SQLiteIndex) load() error {
	rows, err := x.db.Query(`SELECT id, embedding FROM vectors ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("index: load: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("index: load scan: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("index: load %s: %w", id, err)
		}
		if len(vec) != x.dim {
			return fmt.Errorf("index: load %s: stored dimension %d, want %d: %w",
				id, len(vec), x.dim, rag.ErrDimensionMismatch)
		}
		x.byID[id] = len(x.entries)
		x.entries = append(x.entries, indexEntry{id: id, vec: vec})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("index: load rows: %w", err)
	}
	return nil
}

// Insert adds an (id, embedding) entry. Inserting an existing ID is a no-op
// success, which makes at-least-once cache growth delivery safe.
func (x *SQLiteIndex) Insert(ctx context.Context, id string, embedding []float32) error {
	if id == "" {
		return fmt.Errorf("index: insert: missing ID: %w", rag.ErrInvalidInput)
	}
	if len(embedding) != x.dim {
		return fmt.Errorf("index: insert %s: dimension %d, want %d: %w",
			id, len(embedding), x.dim, rag.ErrDimensionMismatch)
	}

	vec := rag.NormalizeVector(cloneVector(embedding))

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.byID[id]; ok {
		return nil
	}

	if _, err := x.db.ExecContext(ctx,
		`INSERT INTO vectors (id, embedding) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, encodeVector(vec)); err != nil {
		return fmt.Errorf("index: insert %s: %w", id, err)
	}

	x.byID[id] = len(x.entries)
	x.entries = append(x.entries, indexEntry{id: id, vec: vec})
	return nil
}

// Query returns up to k nearest neighbours by cosine similarity, best-first.
// Ties are broken by insertion order (earlier entry wins). An empty index
// returns an empty result, not an error.
func (x *SQLiteIndex) Query(ctx context.Context, embedding []float32, k int) ([]rag.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(embedding) != x.dim {
		return nil, fmt.Errorf("index: query: dimension %d, want %d: %w",
			len(embedding), x.dim, rag.ErrDimensionMismatch)
	}

	q := rag.NormalizeVector(cloneVector(embedding))

	x.mu.RLock()
	defer x.mu.RUnlock()

	type scored struct {
		pos   int
		score float32
	}
	results := make([]scored, 0, len(x.entries))
	for i, e := range x.entries {
		results = append(results, scored{pos: i, score: rag.Cosine(q, e.vec)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].pos < results[j].pos
	})

	if len(results) > k {
		results = results[:k]
	}
	hits := make([]rag.Hit, len(results))
	for i, r := range results {
		hits[i] = rag.Hit{ID: x.entries[r.pos].id, Score: r.score}
	}
	return hits, nil
}

// Remove deletes an entry by ID. Removing an absent ID is a no-op.
func (x *SQLiteIndex) Remove(ctx context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	pos, ok := x.byID[id]
	if !ok {
		return nil
	}

	if _, err := x.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: remove %s: %w", id, err)
	}

	x.entries = append(x.entries[:pos], x.entries[pos+1:]...)
	delete(x.byID, id)
	for i := pos; i < len(x.entries); i++ {
		x.byID[x.entries[i].id] = i
	}
	return nil
}

// Compact reclaims disk space after removals. Query/insert correctness does
// not depend on it.
func (x *SQLiteIndex) Compact(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("index: compact: %w", err)
	}
	return nil
}

// IDs returns the set of all entry IDs.
func (x *SQLiteIndex) IDs(ctx context.Context) (map[string]struct{}, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make(map[string]struct{}, len(x.entries))
	for _, e := range x.entries {
		ids[e.id] = struct{}{}
	}
	return ids, nil
}

// Count returns the number of entries in the index.
func (x *SQLiteIndex) Count(ctx context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries), nil
}

// Model returns the embedding model identifier the index is pinned to.
func (x *SQLiteIndex) Model() string { return x.model }

// Close releases the database connection pool.
func (x *SQLiteIndex) Close() error {
	if err := x.db.Close(); err != nil {
		return fmt.Errorf("index: close: %w", err)
	}
	return nil
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks little-endian bytes into a float32 slice.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector blob: %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// cloneVector copies v so normalisation never mutates caller-owned memory.
func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
