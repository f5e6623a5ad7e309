// Package cmd implements the tohnsw command line.
package cmd

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tohnsw",
		Short: "Index genomic sequences in an HNSW graph of MinHash sketches",
		Long: `tohnsw sketches every sequence of a directory tree of compressed FASTA
files, stores the sketches in a hierarchical navigable small-world graph under
the Hamming distance, and dumps the graph so it can be queried or extended later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInfoCmd())
	return rootCmd
}

// Execute runs the command line and exits with status 1 on failure.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("tohnsw failed")
		os.Exit(1)
	}
}
