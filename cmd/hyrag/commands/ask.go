package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/r4js/hyrag-go/internal/engine"
	"github.com/r4js/hyrag-go/internal/logging"
	"github.com/r4js/hyrag-go/internal/rag"
)

// NewAskCmd constructs the `hyrag ask` command: a one-shot question that runs
// the full retrieve-and-synthesize pass and prints the answer with its
// evidence to stdout.
func NewAskCmd() *cobra.Command {
	var mode string
	var retrieveOnly bool
	var showEvidence bool
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the hybrid knowledge cache",
		Long: `Ask a natural language question. Confident cache hits are answered
offline; uncertain questions trigger a live web search whose novel results
are cached for future queries.

Examples:
  hyrag ask "what is the tallest mountain in Europe?"
  hyrag ask --mode offline "what does my seed corpus say about photosynthesis?"
  hyrag ask --retrieve-only "kubernetes pod eviction thresholds"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			m, err := engine.ParseMode(mode)
			if err != nil {
				return err
			}

			// Growth is applied inline so cached online results survive
			// process exit.
			eng, _, closeEngine, err := buildEngine(ctx, log, engineOptions{
				syncGrowth:      true,
				withSynthesizer: !retrieveOnly,
				topK:            topK,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeEngine()

			question := args[0]

			if retrieveOnly {
				res, err := eng.Retrieve(ctx, question, m)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				fmt.Printf("strategy: %s\n", res.Strategy)
				printEvidence(res.Evidence)
				return nil
			}

			ans, err := eng.AskStream(ctx, question, m, os.Stdout)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println()
			if showEvidence {
				fmt.Fprintf(os.Stderr, "\nstrategy: %s (%dms)\n", ans.Strategy, ans.LatencyMS)
				printEvidence(ans.Evidence)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "auto", "Retrieval mode: auto, offline, online, hybrid")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of evidence passages to retrieve (default 3)")
	cmd.Flags().BoolVar(&retrieveOnly, "retrieve-only", false, "Print ranked evidence without generating an answer")
	cmd.Flags().BoolVar(&showEvidence, "evidence", false, "Print the evidence behind the answer to stderr")

	return cmd
}

// printEvidence writes the ranked evidence list to stderr.
func printEvidence(evidence []rag.Candidate) {
	for _, c := range evidence {
		fmt.Fprintf(os.Stderr, "[%d] score=%.3f origin=%s source=%s\n    %s\n",
			c.Rank, c.Score, c.Document.Origin, c.Document.Source, firstLine(c.Document.Content))
	}
}

// firstLine truncates content to its first line, capped at 120 characters.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || i >= 120 {
			return s[:i] + "…"
		}
	}
	return s
}
