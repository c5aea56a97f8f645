// Package ingestion implements the seed-corpus ingestion pipeline.
// It fetches knowledge sources (HTTP URLs or local files), chunks the
// content, embeds each chunk, and writes document plus vector into the
// cache. This pipeline is invoked by the `hyrag ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/r4js/hyrag-go/internal/rag"
)

// Source describes one knowledge source to be ingested.
type Source struct {
	// Location is an HTTP(S) URL or a local file path.
	Location string

	// Label is the human-readable source label recorded on each document.
	// Defaults to Location if empty.
	Label string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between consecutive chunks.
	// Defaults to 100 if zero.
	ChunkOverlap int

	// HTTPTimeout is the timeout for each source fetch request.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string

	// Model is the embedding model identifier recorded on each document.
	Model string
}

// Stats summarises one ingestion run.
type Stats struct {
	// Chunks is the number of chunks produced across all sources.
	Chunks int

	// Stored is the number of chunks actually written. Chunks whose content
	// already exists in the cache are skipped and not counted here.
	Stored int

	// Skipped is the number of chunks skipped as exact duplicates.
	Skipped int
}

// Pipeline orchestrates the fetch, chunk, embed, store flow for a set of
// seed sources.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// index receives one vector per stored chunk.
	index rag.VectorIndex

	// store persists the chunk documents.
	store rag.DocumentStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient is the HTTP client used for fetching remote sources.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, index rag.VectorIndex, store rag.DocumentStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "hyrag-go/1.0 (seed corpus ingestion)"
	}

	return &Pipeline{
		embedder: embedder,
		index:    index,
		store:    store,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// Ingest fetches, chunks, embeds, and stores all provided sources.
// It processes sources sequentially and returns the first error encountered.
// Chunks whose normalised content is already cached are skipped, so re-running
// the same sources is a cheap no-op. Progress is reported via the optional
// progress callback.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source, progress func(msg string)) (Stats, error) {
	if progress == nil {
		progress = func(string) {}
	}

	var stats Stats
	for _, src := range sources {
		progress(fmt.Sprintf("fetching %s", src.Location))

		content, err := p.fetch(ctx, src.Location)
		if err != nil {
			return stats, fmt.Errorf("ingestion: fetch failed for %s: %w", src.Location, err)
		}

		chunks := p.chunk(content)
		stats.Chunks += len(chunks)
		progress(fmt.Sprintf("chunked %s into %d chunks", src.Location, len(chunks)))

		label := src.Label
		if label == "" {
			label = src.Location
		}

		novel, err := p.filterNovel(ctx, chunks)
		if err != nil {
			return stats, err
		}
		stats.Skipped += len(chunks) - len(novel)
		if len(novel) == 0 {
			progress(fmt.Sprintf("all chunks from %s already cached", src.Location))
			continue
		}

		embeddings, err := p.embedder.Embed(ctx, novel)
		if err != nil {
			return stats, fmt.Errorf("ingestion: embedding failed for %s: %w", src.Location, err)
		}

		now := time.Now().UTC()
		for i, chunk := range novel {
			doc := rag.Document{
				ID:         rag.DocumentID(chunk),
				Content:    chunk,
				Source:     label,
				Origin:     rag.OriginSeed,
				Model:      p.cfg.Model,
				IngestedAt: now,
			}
			// Document first, vector second: an index entry must never point
			// at a missing document.
			if err := p.store.Put(ctx, doc); err != nil {
				return stats, fmt.Errorf("ingestion: store failed for %s: %w", src.Location, err)
			}
			if err := p.index.Insert(ctx, doc.ID, rag.NormalizeVector(embeddings[i])); err != nil {
				return stats, fmt.Errorf("ingestion: index failed for %s: %w", src.Location, err)
			}
			stats.Stored++
		}

		progress(fmt.Sprintf("ingested %d chunks from %s", len(novel), src.Location))
	}

	return stats, nil
}

// filterNovel drops chunks whose content ID is already present in the store,
// along with intra-batch duplicates.
func (p *Pipeline) filterNovel(ctx context.Context, chunks []string) ([]string, error) {
	seen := make(map[string]struct{}, len(chunks))
	novel := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		id := rag.DocumentID(chunk)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		exists, err := p.store.Contains(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ingestion: duplicate check: %w", err)
		}
		if exists {
			continue
		}
		novel = append(novel, chunk)
	}
	return novel, nil
}

// fetch retrieves the raw text content of a source: HTTP(S) URLs are fetched
// over the network, anything else is read as a local file path.
func (p *Pipeline) fetch(ctx context.Context, location string) (string, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
		return string(data), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, location)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	return string(body), nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
func (p *Pipeline) chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}

	return chunks
}
