package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/r4js/hyrag-go/internal/answer"
	"github.com/r4js/hyrag-go/internal/docstore"
	"github.com/r4js/hyrag-go/internal/embedder"
	"github.com/r4js/hyrag-go/internal/engine"
	"github.com/r4js/hyrag-go/internal/index"
	"github.com/r4js/hyrag-go/internal/provider"
	"github.com/r4js/hyrag-go/internal/rag"
	"github.com/r4js/hyrag-go/internal/server"
	"github.com/r4js/hyrag-go/internal/websearch"
)

// dataDir resolves the directory holding the vector index and document store.
// HYRAG_DATA_DIR overrides the default ~/.hyrag.
func dataDir() (string, error) {
	if dir := os.Getenv("HYRAG_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".hyrag"), nil
}

// cache bundles the opened index and store with a single close function.
type cache struct {
	index rag.VectorIndex
	store rag.DocumentStore
	close func()
}

// openCache opens the vector index and document store for the configured
// backend. VECTOR_BACKEND selects sqlite (default, local files under the data
// dir) or qdrant (remote collection; documents stay in local SQLite).
func openCache(ctx context.Context, log *slog.Logger) (*cache, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
	}

	store, err := docstore.Open(filepath.Join(dir, "documents.db"))
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	model := embedder.ModelName()
	dim := embedder.DefaultDimensions(embedder.Backend())

	var idx rag.VectorIndex
	switch backend := getEnvOrDefault("VECTOR_BACKEND", "sqlite"); backend {
	case "sqlite":
		idx, err = index.Open(filepath.Join(dir, "vectors.db"), model, dim)
	case "qdrant":
		idx, err = index.NewQdrantIndex(ctx, &index.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "hyrag-cache"),
			VectorSize: uint64(dim), //nolint:gosec // dimensions are bounded
			Model:      model,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
	default:
		err = fmt.Errorf("unknown VECTOR_BACKEND %q — valid values: sqlite, qdrant", backend)
	}
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening vector index: %w", err)
	}

	log.Info("cache opened",
		slog.String("data_dir", dir),
		slog.String("backend", getEnvOrDefault("VECTOR_BACKEND", "sqlite")),
		slog.String("model", model),
		slog.Int("dimensions", dim),
	)

	return &cache{
		index: idx,
		store: store,
		close: func() {
			if err := idx.Close(); err != nil {
				log.Warn("closing index", slog.Any("error", err))
			}
			if err := store.Close(); err != nil {
				log.Warn("closing store", slog.Any("error", err))
			}
		},
	}, nil
}

// buildOnline constructs the web-search leg, or nil when SERPER_API_KEY is
// not set. A nil online retriever makes the engine run offline-only.
func buildOnline(log *slog.Logger) rag.OnlineRetriever {
	cfg := websearch.ConfigFromEnv()
	if cfg.APIKey == "" {
		log.Info("online retrieval disabled", slog.String("reason", "SERPER_API_KEY not set"))
		return nil
	}
	client, err := websearch.NewSerperClient(cfg)
	if err != nil {
		log.Warn("online retrieval disabled", slog.Any("error", err))
		return nil
	}
	return client
}

// engineOptions tunes buildEngine per command.
type engineOptions struct {
	// syncGrowth applies cache growth inline. Used by the one-shot ask path
	// so the process does not exit before writes land.
	syncGrowth bool
	// withSynthesizer wires the chat model for answer generation. Retrieval
	// only paths skip it to avoid requiring model credentials.
	withSynthesizer bool
	// topK overrides RETRIEVAL_TOP_K when positive.
	topK int
}

// buildEngine assembles the full retrieval engine from the environment.
// The returned close function releases the engine and its cache; the cache
// itself is exposed for pinger wiring.
func buildEngine(ctx context.Context, log *slog.Logger, opts engineOptions) (*engine.Engine, *cache, func(), error) {
	if err := embedder.Preflight(log); err != nil {
		return nil, nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialising embedder: %w", err)
	}

	c, err := openCache(ctx, log)
	if err != nil {
		return nil, nil, nil, err
	}

	var synth *answer.Synthesizer
	if opts.withSynthesizer {
		chatModel, err := provider.NewFromEnv(ctx)
		if err != nil {
			c.close()
			return nil, nil, nil, fmt.Errorf("initialising model provider: %w", err)
		}
		synth, err = answer.New(&answer.Config{ChatModel: chatModel})
		if err != nil {
			c.close()
			return nil, nil, nil, err
		}
	}

	eng, err := engine.New(ctx, engine.Config{
		Embedder:       emb,
		Index:          c.index,
		Store:          c.store,
		Online:         buildOnline(log),
		Synthesizer:    synth,
		EmbeddingModel: embedder.ModelName(),
		ThetaConfident: getEnvFloat32("THETA_CONFIDENT", 0),
		ThetaDup:       getEnvFloat32("THETA_DUP", 0),
		TopK:           topKOrEnv(opts.topK),
		OnlineLimit:    getEnvInt("SERPER_NUM_RESULTS", 0),
		SyncGrowth:     opts.syncGrowth,
	})
	if err != nil {
		c.close()
		return nil, nil, nil, err
	}

	return eng, c, func() {
		eng.Close()
		c.close()
	}, nil
}

// buildPingers assembles the readiness probes for the serve command: the
// embedding backend, plus Qdrant when it backs the index.
func buildPingers(emb rag.Embedder, c *cache) []server.Pinger {
	var pingers []server.Pinger

	if p, ok := emb.(interface {
		Ping(ctx context.Context) error
	}); ok {
		pingers = append(pingers, server.NewEmbedderPinger(p, embedder.Backend()+"-embedder"))
	}

	if qx, ok := c.index.(*index.QdrantIndex); ok {
		pingers = append(pingers, server.NewQdrantPinger(qx.Client()))
	}

	return pingers
}

// topKOrEnv resolves the evidence count: an explicit flag wins over
// RETRIEVAL_TOP_K; zero lets the engine apply its default.
func topKOrEnv(flag int) int {
	if flag > 0 {
		return flag
	}
	return getEnvInt("RETRIEVAL_TOP_K", 0)
}

// getEnvOrDefault returns the environment variable's value, or fallback when
// unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses an integer environment variable, returning fallback when
// unset or malformed.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat32 parses a float environment variable, returning fallback when
// unset or malformed.
func getEnvFloat32(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}
