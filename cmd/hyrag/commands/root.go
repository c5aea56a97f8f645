// Package commands defines all Cobra CLI commands for the hyrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/r4js/hyrag-go/internal/audit"
	"github.com/r4js/hyrag-go/internal/config"
	"github.com/r4js/hyrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hyrag",
		Short: "hyrag — hybrid retrieval with an incremental knowledge cache",
		Long: `hyrag answers questions by combining a local vector cache with live web
search. Confident cache hits are served offline; uncertain queries trigger an
online search whose novel results are folded back into the cache, so the
knowledge base grows with use.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.hyrag/config.yaml).
See 'hyrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.hyrag/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewStatusCmd(),
		NewCompactCmd(),
		NewVersionCmd(),
	)

	return root
}
