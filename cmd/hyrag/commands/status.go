package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/r4js/hyrag-go/internal/embedder"
	"github.com/r4js/hyrag-go/internal/index"
	"github.com/r4js/hyrag-go/internal/logging"
)

// NewStatusCmd constructs the `hyrag status` command, which prints cache
// counts and verifies index/store referential integrity.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print knowledge cache counts and verify integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			c, err := openCache(ctx, log)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer c.close()

			docs, err := c.store.Count(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			vecs, err := c.index.Count(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			fmt.Printf("documents: %d\nvectors:   %d\nmodel:     %s\n", docs, vecs, embedder.ModelName())

			if err := index.CheckIntegrity(ctx, c.index, c.store); err != nil {
				return fmt.Errorf("status: %w", err)
			}
			fmt.Println("integrity: ok")
			return nil
		},
	}
}
