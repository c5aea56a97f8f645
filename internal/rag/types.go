// Package rag defines the data model and component interfaces of the hybrid
// retrieval engine: embedding, vector indexing, document storage, and online
// search. Concrete implementations (SQLite, Qdrant, Ollama, Serper, etc.)
// satisfy these interfaces so the orchestrator never depends on a specific
// backend.
package rag

import (
	"context"
	"time"
)

// Origin identifies how a document entered the knowledge cache.
type Origin string

const (
	// OriginSeed marks a document ingested from the offline seed corpus.
	OriginSeed Origin = "offline-seed"

	// OriginOnline marks a document cached from a live web search result.
	OriginOnline Origin = "online-cached"
)

// Strategy identifies which retrieval legs actually served a query.
type Strategy string

const (
	// StrategyOffline means only the local index was consulted.
	StrategyOffline Strategy = "offline"

	// StrategyOnline means only the web search provider was consulted.
	StrategyOnline Strategy = "online"

	// StrategyHybrid means both legs contributed to the evidence set.
	StrategyHybrid Strategy = "hybrid"

	// StrategyOfflineDegraded means the online leg was attempted but failed,
	// and the query was served from the local index alone.
	StrategyOfflineDegraded Strategy = "offline-degraded"
)

// Document is a unit of stored knowledge. Documents are immutable once
// written; an update is modelled as an insert of a new ID plus an optional
// removal of the superseded one.
type Document struct {
	// ID is the deterministic identifier: hex(sha256(normalised content)).
	// Re-ingesting identical content therefore maps to the same ID.
	ID string

	// Content is the full text of the passage.
	Content string

	// Source is the origin URI of the passage, or empty when unknown.
	Source string

	// Origin records whether the document came from the seed corpus or was
	// cached from an online result.
	Origin Origin

	// Model is the embedding model identifier the document was indexed under.
	Model string

	// IngestedAt is when the document was persisted.
	IngestedAt time.Time
}

// Candidate is a scored retrieval result. Candidates are transient — they are
// produced per query and never persisted.
type Candidate struct {
	// Document is the resolved document for this hit.
	Document Document

	// Score is the cosine similarity between the query and the document
	// embedding. Vectors are unit-normalised, so the score is the raw cosine:
	// nominally [-1, 1], in practice [0, 1] for sentence-embedding models.
	Score float32

	// Rank is the 1-based position in the final ordered result set.
	Rank int
}

// RawResult is an unprocessed candidate returned by the online search
// provider, before embedding and deduplication.
type RawResult struct {
	// Content is the snippet text of the result.
	Content string

	// Source is the URL of the result.
	Source string

	// PublishedAt is the provider-reported publication date, if any.
	PublishedAt string
}

// MergedResult is the output of the deduplicating merger: the final bounded
// evidence list plus the subset of online results that are semantically novel
// and should be folded into the cache.
type MergedResult struct {
	// Evidence is the ranked evidence list, best-first, len <= k.
	Evidence []Candidate

	// NewDocuments are online results that were not near-duplicates of any
	// indexed document and should be persisted by the cache-growth path.
	// Embeddings are parallel: NewEmbeddings[i] belongs to NewDocuments[i].
	NewDocuments []Document

	// NewEmbeddings holds the pre-computed embedding for each new document.
	NewEmbeddings [][]float32
}

// Hit is a raw nearest-neighbour result from a vector index, before the ID is
// resolved through the document store.
type Hit struct {
	// ID is the document identifier of the matched entry.
	ID string

	// Score is the cosine similarity to the query vector.
	Score float32
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their embeddings. The returned
	// slice is parallel to the input. The batch fails atomically: if any
	// input is empty or whitespace-only, no text is embedded and the error
	// wraps ErrInvalidInput.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is a durable nearest-neighbour store over embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Insert adds an (id, embedding) entry. Inserting an ID that is already
	// present is a no-op success, making concurrent cache growth safe.
	Insert(ctx context.Context, id string, embedding []float32) error

	// Query returns up to k nearest neighbours by cosine similarity,
	// strictly ordered best-first. Ties are broken by insertion order
	// (earlier entry wins) so repeated queries are deterministic.
	Query(ctx context.Context, embedding []float32, k int) ([]Hit, error)

	// Remove deletes an entry by ID. Removing an absent ID is a no-op.
	Remove(ctx context.Context, id string) error

	// IDs returns the set of all entry IDs, used by the startup
	// referential-integrity check against the document store.
	IDs(ctx context.Context) (map[string]struct{}, error)

	// Count returns the number of entries in the index.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the index.
	Close() error
}

// DocumentStore maps document IDs to their full content and provenance.
// Every index entry must have exactly one corresponding document here, and
// vice versa. Implementations must be safe to call from multiple goroutines.
type DocumentStore interface {
	// Put persists a document. Writing an ID that is already present is a
	// no-op success. The write is atomic: a crash mid-write never leaves a
	// partially written document visible.
	Put(ctx context.Context, doc Document) error

	// Get returns the document for id. The error wraps ErrNotFound when the
	// ID is absent.
	Get(ctx context.Context, id string) (Document, error)

	// Contains reports whether a document with the given ID exists.
	Contains(ctx context.Context, id string) (bool, error)

	// IDs returns the set of all stored document IDs.
	IDs(ctx context.Context) (map[string]struct{}, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Remove deletes a document by ID. Removing an absent ID is a no-op.
	Remove(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// OnlineRetriever wraps the external web-search provider.
// Implementations must enforce their own per-call timeout and classify
// failures with the websearch error taxonomy so the orchestrator can decide
// whether to degrade or retry.
type OnlineRetriever interface {
	// Search returns up to limit raw candidates for the query.
	Search(ctx context.Context, query string, limit int) ([]RawResult, error)
}
