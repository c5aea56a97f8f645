package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/r4js/hyrag-go/internal/embedder"
	"github.com/r4js/hyrag-go/internal/logging"
	"github.com/r4js/hyrag-go/internal/server"
	"github.com/r4js/hyrag-go/internal/tracing"
)

// NewServeCmd constructs the `hyrag serve` command, which starts the HTTP
// server exposing the question-answering API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hyrag HTTP server",
		Long: `Start the hyrag HTTP server on localhost.

The server exposes POST /api/ask for question answering, GET /api/status for
cache counts, plus health, readiness, and Prometheus metrics endpoints.
Online results cached during serving are applied asynchronously by default;
set CACHE_GROWTH_ASYNC=false to apply them inline.

Examples:
  hyrag serve
  hyrag serve --port 9090
  MODEL_PROVIDER=azure hyrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			syncGrowth := getEnvOrDefault("CACHE_GROWTH_ASYNC", "true") == "false"
			eng, c, closeEngine, err := buildEngine(ctx, log, engineOptions{
				syncGrowth:      syncGrowth,
				withSynthesizer: true,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeEngine()

			// A second embedder client for the readiness probe; embedder
			// clients are stateless.
			var pingers []server.Pinger
			if emb, err := embedder.NewFromEnv(); err == nil {
				pingers = buildPingers(emb, c)
			}

			srv, err := server.New(eng, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("HYRAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
