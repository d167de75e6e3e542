package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "celldecon"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Bulk-sample cell-type deconvolution",
		Version: version,
		Long: `celldecon estimates cell-type proportions in bulk samples from a
reference signature matrix, running several constrained solver strategies and
selecting the best-performing one.`,
	}

	rootCmd.AddCommand(newSolveCmd())
	rootCmd.AddCommand(newEvaluateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
