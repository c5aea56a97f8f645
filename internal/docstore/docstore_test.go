package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/r4js/hyrag-go/internal/rag"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDoc(content string) rag.Document {
	return rag.Document{
		ID:      rag.DocumentID(content),
		Content: content,
		Source:  "https://example.com/a",
		Origin:  rag.OriginOnline,
		Model:   "nomic-embed-text",
	}
}

func Test_Store_PutAndGet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc := testDoc("the capital of france is paris")
	if err := s.Put(ctx, doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != doc.Content || got.Source != doc.Source || got.Origin != doc.Origin {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if got.IngestedAt.IsZero() {
		t.Error("IngestedAt not populated")
	}
}

func Test_Store_PutIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc := testDoc("idempotent content")
	for range 3 {
		if err := s.Put(ctx, doc); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 document after repeated puts, got %d", n)
	}
}

func Test_Store_GetMissingIsNotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.Get(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef")
	if !errors.Is(err, rag.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func Test_Store_Contains(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	doc := testDoc("present")
	if err := s.Put(ctx, doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	ok, err := s.Contains(ctx, doc.ID)
	if err != nil || !ok {
		t.Errorf("contains(present): got %v, %v", ok, err)
	}
	ok, err = s.Contains(ctx, "absent-id")
	if err != nil || ok {
		t.Errorf("contains(absent): got %v, %v", ok, err)
	}
}

func Test_Store_RemoveAndIDs(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	a := testDoc("doc a")
	b := testDoc("doc b")
	for _, d := range []rag.Document{a, b} {
		if err := s.Put(ctx, d); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if err := s.Remove(ctx, a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Removing an absent ID is a no-op.
	if err := s.Remove(ctx, a.ID); err != nil {
		t.Fatalf("remove absent: %v", err)
	}

	ids, err := s.IDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if _, ok := ids[a.ID]; ok {
		t.Error("removed ID still present")
	}
	if _, ok := ids[b.ID]; !ok {
		t.Error("surviving ID missing")
	}
}

func Test_Store_ConcurrentPuts(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 16
	shared := testDoc("every worker writes this one")

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The shared document races across all workers; idempotency must hold.
			if err := s.Put(ctx, shared); err != nil {
				errCh <- err
				return
			}
			for i := range perWorker {
				if err := s.Put(ctx, testDoc(fmt.Sprintf("doc %d-%d", w, i))); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent put: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != workers*perWorker+1 {
		t.Errorf("want %d documents, got %d", workers*perWorker+1, n)
	}
}

func Test_Store_RejectsMissingID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	err := s.Put(context.Background(), rag.Document{Content: "no id"})
	if !errors.Is(err, rag.ErrInvalidInput) {
		t.Errorf("want ErrInvalidInput, got %v", err)
	}
}
