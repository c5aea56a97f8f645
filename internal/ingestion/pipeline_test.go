package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/r4js/hyrag-go/internal/docstore"
	"github.com/r4js/hyrag-go/internal/index"
	"github.com/r4js/hyrag-go/internal/rag"
)

// fakeEmbedder returns a fixed-dimension vector derived from text length so
// distinct chunks get distinct (but deterministic) embeddings.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

// newTestPipeline builds a Pipeline over in-memory SQLite index and store.
func newTestPipeline(t *testing.T, cfg *Config) (*Pipeline, rag.VectorIndex, rag.DocumentStore) {
	t.Helper()

	idx, err := index.Open(":memory:", "test-model", 3)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	store, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg == nil {
		cfg = &Config{Model: "test-model"}
	}
	p, err := NewPipeline(&fakeEmbedder{}, idx, store, cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, idx, store
}

func Test_Ingest_LocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.txt")
	if err := os.WriteFile(path, []byte("The capital of France is Paris."), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	p, idx, store := newTestPipeline(t, nil)

	stats, err := p.Ingest(t.Context(), []Source{{Location: path, Label: "seed:geography"}}, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if stats.Stored != 1 || stats.Chunks != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	n, err := store.Count(t.Context())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stored document, got %d", n)
	}
	vn, err := idx.Count(t.Context())
	if err != nil {
		t.Fatalf("index count: %v", err)
	}
	if vn != 1 {
		t.Errorf("expected 1 indexed vector, got %d", vn)
	}

	id := rag.DocumentID("The capital of France is Paris.")
	doc, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Origin != rag.OriginSeed {
		t.Errorf("expected seed origin, got %q", doc.Origin)
	}
	if doc.Source != "seed:geography" {
		t.Errorf("expected label carried as source, got %q", doc.Source)
	}
	if doc.Model != "test-model" {
		t.Errorf("expected model recorded, got %q", doc.Model)
	}
}

func Test_Ingest_HTTPSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "hyrag-go") {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Write([]byte("Water boils at 100 degrees Celsius at sea level."))
	}))
	t.Cleanup(srv.Close)

	p, _, store := newTestPipeline(t, nil)

	stats, err := p.Ingest(t.Context(), []Source{{Location: srv.URL}}, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if stats.Stored != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	id := rag.DocumentID("Water boils at 100 degrees Celsius at sea level.")
	doc, err := store.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Label defaults to the location.
	if doc.Source != srv.URL {
		t.Errorf("expected source %q, got %q", srv.URL, doc.Source)
	}
}

func Test_Ingest_ReRunIsNoOp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.txt")
	if err := os.WriteFile(path, []byte("Photosynthesis converts light into chemical energy."), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	p, _, store := newTestPipeline(t, nil)
	src := []Source{{Location: path}}

	if _, err := p.Ingest(t.Context(), src, nil); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	stats, err := p.Ingest(t.Context(), src, nil)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if stats.Stored != 0 || stats.Skipped != 1 {
		t.Errorf("expected re-run to skip everything, got %+v", stats)
	}

	n, err := store.Count(t.Context())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 document after re-run, got %d", n)
	}
}

func Test_Ingest_ChunksLongContent(t *testing.T) {
	t.Parallel()

	// 2500 characters with chunk size 1000 and overlap 100 gives 3 chunks.
	content := strings.Repeat("abcdefghij", 250)
	path := filepath.Join(t.TempDir(), "long.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	p, _, _ := newTestPipeline(t, &Config{ChunkSize: 1000, ChunkOverlap: 100, Model: "test-model"})

	stats, err := p.Ingest(t.Context(), []Source{{Location: path}}, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if stats.Chunks != 3 {
		t.Errorf("expected 3 chunks, got %d", stats.Chunks)
	}
}

func Test_Ingest_FetchErrorPropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	p, _, _ := newTestPipeline(t, nil)

	if _, err := p.Ingest(t.Context(), []Source{{Location: srv.URL}}, nil); err == nil {
		t.Error("expected error for non-200 fetch")
	}
}

func Test_Chunk_Overlap(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(t, &Config{ChunkSize: 10, ChunkOverlap: 3, Model: "test-model"})

	chunks := p.chunk("abcdefghijklmnop")
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != "abcdefghij" {
		t.Errorf("unexpected first chunk %q", chunks[0])
	}
	// Second chunk starts 3 characters before the end of the first.
	if !strings.HasPrefix(chunks[1], "hij") {
		t.Errorf("expected overlap prefix, got %q", chunks[1])
	}
}

func Test_NewPipeline_Validation(t *testing.T) {
	t.Parallel()

	idx, err := index.Open(":memory:", "test-model", 3)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	store, err := docstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if _, err := NewPipeline(nil, idx, store, nil); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewPipeline(&fakeEmbedder{}, nil, store, nil); err == nil {
		t.Error("expected error for nil index")
	}
	if _, err := NewPipeline(&fakeEmbedder{}, idx, nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
}
