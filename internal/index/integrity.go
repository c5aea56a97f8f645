package index

import (
	"context"
	"fmt"

	"github.com/r4js/hyrag-go/internal/rag"
)

// CheckIntegrity verifies that the vector index and the document store hold
// exactly the same ID set. Run it at startup before serving any query: an
// index entry without a document (or a document never indexed) means a write
// was torn between the two stores and every retrieval through the damaged ID
// would fail or lie. The engine must halt and report rather than silently
// truncate.
func CheckIntegrity(ctx context.Context, idx rag.VectorIndex, store rag.DocumentStore) error {
	indexIDs, err := idx.IDs(ctx)
	if err != nil {
		return fmt.Errorf("integrity: listing index IDs: %w", err)
	}
	storeIDs, err := store.IDs(ctx)
	if err != nil {
		return fmt.Errorf("integrity: listing document IDs: %w", err)
	}

	var orphanEntries, unindexedDocs []string
	for id := range indexIDs {
		if _, ok := storeIDs[id]; !ok {
			orphanEntries = append(orphanEntries, id)
		}
	}
	for id := range storeIDs {
		if _, ok := indexIDs[id]; !ok {
			unindexedDocs = append(unindexedDocs, id)
		}
	}

	if len(orphanEntries) == 0 && len(unindexedDocs) == 0 {
		return nil
	}

	return fmt.Errorf(
		"integrity: index has %d entries, store has %d documents: %d index entries without a document (e.g. %s), %d documents never indexed (e.g. %s): %w",
		len(indexIDs), len(storeIDs),
		len(orphanEntries), firstOrNone(orphanEntries),
		len(unindexedDocs), firstOrNone(unindexedDocs),
		rag.ErrIndexCorruption,
	)
}

// firstOrNone returns the first element or "none" for the error message.
func firstOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return ids[0]
}
