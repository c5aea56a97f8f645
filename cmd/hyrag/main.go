// Command hyrag is the entry point for the hybrid retrieval engine.
// It provides a CLI interface (via Cobra) and an optional HTTP server
// exposing the question-answering API.
package main

import (
	"fmt"
	"os"

	"github.com/r4js/hyrag-go/cmd/hyrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
