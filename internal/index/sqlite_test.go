package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/r4js/hyrag-go/internal/docstore"
	"github.com/r4js/hyrag-go/internal/rag"
)

// openTestIndex opens a SQLiteIndex on a temp file so persistence can be
// exercised by reopening the same path.
func openTestIndex(t *testing.T, dim int) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	x, err := Open(path, "nomic-embed-text", dim)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = x.Close() })
	return x, path
}

func Test_Index_InsertIsIdempotent(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	for range 3 {
		if err := x.Insert(ctx, "doc-a", []float32{1, 0}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := x.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 entry after repeated inserts, got %d", n)
	}
}

func Test_Index_QueryOrderAndDeterminism(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	// doc-far is orthogonal to the query; doc-near is parallel.
	if err := x.Insert(ctx, "doc-far", []float32{0, 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := x.Insert(ctx, "doc-near", []float32{1, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := x.Insert(ctx, "doc-mid", []float32{1, 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := x.Query(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("want 3 hits, got %d", len(first))
	}
	if first[0].ID != "doc-near" || first[1].ID != "doc-mid" || first[2].ID != "doc-far" {
		t.Errorf("wrong order: %v", first)
	}
	for i := 1; i < len(first); i++ {
		if first[i].Score > first[i-1].Score {
			t.Errorf("scores not non-increasing: %v", first)
		}
	}

	// Re-running the identical query yields the identical ordered result.
	second, err := x.Query(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("non-deterministic result: %v vs %v", first, second)
		}
	}
}

func Test_Index_TieBrokenByInsertionOrder(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	// Two identical vectors: the earlier insert must rank first.
	if err := x.Insert(ctx, "doc-second", []float32{1, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := x.Insert(ctx, "doc-third", []float32{1, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	hits, err := x.Query(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if hits[0].ID != "doc-second" || hits[1].ID != "doc-third" {
		t.Errorf("tie not broken by insertion order: %v", hits)
	}
}

func Test_Index_KCapAndEmptyIndex(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	// Cold start: empty index returns empty hits, not an error.
	hits, err := x.Query(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("query empty index: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("want 0 hits from empty index, got %d", len(hits))
	}

	for i, id := range []string{"a", "b", "c"} {
		if err := x.Insert(ctx, id, []float32{1, float32(i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	hits, err = x.Query(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("want k=2 hits, got %d", len(hits))
	}
}

func Test_Index_SurvivesReopen(t *testing.T) {
	t.Parallel()
	x, path := openTestIndex(t, 2)
	ctx := context.Background()

	if err := x.Insert(ctx, "persisted", []float32{1, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := x.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, "nomic-embed-text", 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	hits, err := reopened.Query(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "persisted" {
		t.Errorf("entry lost across restart: %v", hits)
	}
}

func Test_Index_RefusesModelSwitch(t *testing.T) {
	t.Parallel()
	x, path := openTestIndex(t, 2)

	if err := x.Insert(context.Background(), "a", []float32{1, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := x.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := Open(path, "text-embedding-3-small", 2)
	if !errors.Is(err, rag.ErrModelMismatch) {
		t.Errorf("want ErrModelMismatch on model switch, got %v", err)
	}

	_, err = Open(path, "nomic-embed-text", 3)
	if !errors.Is(err, rag.ErrModelMismatch) {
		t.Errorf("want ErrModelMismatch on dimension switch, got %v", err)
	}
}

func Test_Index_DimensionChecked(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	if err := x.Insert(ctx, "bad", []float32{1, 0, 0}); !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Errorf("insert: want ErrDimensionMismatch, got %v", err)
	}
	if _, err := x.Query(ctx, []float32{1}, 1); !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Errorf("query: want ErrDimensionMismatch, got %v", err)
	}
}

func Test_Index_Remove(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	if err := x.Insert(ctx, "a", []float32{1, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := x.Insert(ctx, "b", []float32{0, 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := x.Remove(ctx, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := x.Remove(ctx, "a"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}

	hits, err := x.Query(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, h := range hits {
		if h.ID == "a" {
			t.Error("removed entry still returned")
		}
	}
}

func Test_Index_ConcurrentDistinctInserts(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	store, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	const workers = 8
	const perWorker = 16

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				content := fmt.Sprintf("fact %d-%d", w, i)
				doc := rag.Document{
					ID:      rag.DocumentID(content),
					Content: content,
					Origin:  rag.OriginSeed,
					Model:   "nomic-embed-text",
				}
				if err := store.Put(ctx, doc); err != nil {
					errCh <- err
					return
				}
				if err := x.Insert(ctx, doc.ID, []float32{1, float32(w*perWorker + i)}); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent insert: %v", err)
	}

	n, err := x.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != workers*perWorker {
		t.Errorf("want %d entries, got %d", workers*perWorker, n)
	}
	if err := CheckIntegrity(ctx, x, store); err != nil {
		t.Errorf("index corrupted by concurrent inserts: %v", err)
	}

	// The mirror survived the races: every entry is still queryable.
	hits, err := x.Query(ctx, []float32{1, 0}, workers*perWorker)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != workers*perWorker {
		t.Errorf("want %d hits, got %d", workers*perWorker, len(hits))
	}
}

func Test_Integrity_DetectsMissingDocument(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	store, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	doc := rag.Document{
		ID:      rag.DocumentID("paired content"),
		Content: "paired content",
		Origin:  rag.OriginSeed,
		Model:   "nomic-embed-text",
	}
	if err := store.Put(ctx, doc); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := x.Insert(ctx, doc.ID, []float32{1, 0}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := CheckIntegrity(ctx, x, store); err != nil {
		t.Fatalf("consistent stores reported corrupt: %v", err)
	}

	// Tear the pairing: drop the document but leave its index entry.
	if err := store.Remove(ctx, doc.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := CheckIntegrity(ctx, x, store); !errors.Is(err, rag.ErrIndexCorruption) {
		t.Errorf("want ErrIndexCorruption, got %v", err)
	}
}

func Test_Integrity_DetectsUnindexedDocument(t *testing.T) {
	t.Parallel()
	x, _ := openTestIndex(t, 2)
	ctx := context.Background()

	store, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	doc := rag.Document{
		ID:      rag.DocumentID("never indexed"),
		Content: "never indexed",
		Origin:  rag.OriginSeed,
		Model:   "nomic-embed-text",
	}
	if err := store.Put(ctx, doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := CheckIntegrity(ctx, x, store); !errors.Is(err, rag.ErrIndexCorruption) {
		t.Errorf("want ErrIndexCorruption, got %v", err)
	}
}
