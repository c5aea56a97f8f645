package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/r4js/hyrag-go/internal/embedder"
	"github.com/r4js/hyrag-go/internal/index"
	"github.com/r4js/hyrag-go/internal/logging"
)

// NewCompactCmd constructs the `hyrag compact` command, which reclaims disk
// space in the local SQLite vector index after removals.
func NewCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Reclaim disk space in the local vector index",
		Long: `Run VACUUM on the local SQLite vector index to reclaim space left by
removed entries. Only applies to the sqlite backend; Qdrant manages its own
storage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if backend := getEnvOrDefault("VECTOR_BACKEND", "sqlite"); backend != "sqlite" {
				return fmt.Errorf("compact: not supported for the %q backend", backend)
			}

			dir, err := dataDir()
			if err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			path := filepath.Join(dir, "vectors.db")
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("compact: no index at %s: %w", path, err)
			}

			idx, err := index.Open(path, embedder.ModelName(), embedder.DefaultDimensions(embedder.Backend()))
			if err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			defer idx.Close()

			if err := idx.Compact(ctx); err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Println("compacted", path)
			return nil
		},
	}
}
