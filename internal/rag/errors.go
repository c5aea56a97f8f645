package rag

import "errors"

// Sentinel errors for the engine's failure taxonomy. Callers classify with
// [errors.Is]; concrete errors wrap these with contextual detail.
var (
	// ErrInvalidInput marks an empty or whitespace-only query or passage.
	// Surfaced to the caller immediately — no retrieval is attempted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbedding marks a failed embedding call. Fatal to the query that
	// triggered it: retrieval is impossible without a query vector.
	ErrEmbedding = errors.New("embedding failure")

	// ErrIndexCorruption marks a referential-integrity violation between the
	// vector index and the document store. Fatal at startup: the engine
	// refuses to serve from an inconsistent index.
	ErrIndexCorruption = errors.New("index corruption")

	// ErrNotFound marks a document store lookup miss.
	ErrNotFound = errors.New("document not found")

	// ErrModelMismatch marks an index persisted under a different embedding
	// model than the one configured. Mixing vector spaces silently would
	// corrupt every similarity score, so opening such an index is refused.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrDimensionMismatch marks a vector whose length differs from the
	// index's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
