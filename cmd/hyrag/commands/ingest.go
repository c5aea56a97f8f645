package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/r4js/hyrag-go/internal/embedder"
	"github.com/r4js/hyrag-go/internal/ingestion"
	"github.com/r4js/hyrag-go/internal/logging"
)

// NewIngestCmd constructs the `hyrag ingest` command, which runs the seed
// ingestion pipeline to populate the knowledge cache.
func NewIngestCmd() *cobra.Command {
	var urls []string
	var files []string
	var label string
	var chunkSize int
	var chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest seed documents into the knowledge cache",
		Long: `Fetch, chunk, embed, and store seed documents in the knowledge cache.

Seeded passages are served offline when they answer a query confidently,
avoiding the online search round trip. Re-ingesting the same content is a
no-op: chunk identity is derived from normalised content.

Required environment variables:
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides (see README)
  HYRAG_DATA_DIR       Cache location (default: ~/.hyrag)
  VECTOR_BACKEND       sqlite (default) or qdrant

Examples:
  hyrag ingest --url https://en.wikipedia.org/wiki/Retrieval-augmented_generation
  hyrag ingest --file ./corpus/geography.txt --label seed:geography
  hyrag ingest --file a.txt --file b.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(urls) == 0 && len(files) == 0 {
				return fmt.Errorf("ingest: at least one --url or --file is required")
			}

			if err := embedder.Preflight(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("backend", embedder.Backend()))

			c, err := openCache(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer c.close()

			pipeline, err := ingestion.NewPipeline(emb, c.index, c.store, &ingestion.Config{
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
				Model:        embedder.ModelName(),
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			sources := make([]ingestion.Source, 0, len(urls)+len(files))
			for _, u := range urls {
				sources = append(sources, ingestion.Source{Location: u, Label: label})
			}
			for _, f := range files {
				sources = append(sources, ingestion.Source{Location: f, Label: label})
			}

			log.Info("starting ingestion", slog.Int("sources", len(sources)))

			stats, err := pipeline.Ingest(ctx, sources, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete",
				slog.Int("chunks", stats.Chunks),
				slog.Int("stored", stats.Stored),
				slog.Int("skipped", stats.Skipped),
			)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Source URL to ingest (repeatable)")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Local file to ingest (repeatable)")
	cmd.Flags().StringVarP(&label, "label", "l", "", "Source label recorded on ingested documents (defaults to the location)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Maximum characters per chunk (default 1000)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Characters of overlap between chunks (default 100)")

	return cmd
}
