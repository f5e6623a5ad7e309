package cmd

import (
	"github.com/patrikhermansson/tohnsw/config"
	"github.com/patrikhermansson/tohnsw/dumpload"
	"github.com/patrikhermansson/tohnsw/query"
	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var indexDir, dir string
	var maxResults int
	var noProgress bool
	opts := query.BatchOptions{K: 10, Threads: 1, Suffix: config.DefaultSuffix}

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query every sequence of a directory against a dumped index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := dumpload.ReloadAll(indexDir)
			if err != nil {
				return err
			}
			s, err := query.NewSearcher(st)
			if err != nil {
				return err
			}
			opts.Progress = !noProgress
			results, err := query.RunBatch(cmd.Context(), s, dir, opts)
			if err != nil {
				return err
			}
			query.PrintResults(cmd.OutOrStdout(), results, maxResults)
			return nil
		},
	}

	f := queryCmd.Flags()
	f.StringVar(&indexDir, "index", "", "directory holding a dumped index")
	f.StringVarP(&dir, "dir", "d", "", "directory containing the query sequences")
	f.IntVarP(&opts.K, "k", "k", opts.K, "number of neighbours per query")
	f.IntVar(&opts.Ef, "ef", 0, "search breadth (0 uses the index's ef_search)")
	f.IntVar(&opts.Threads, "threads", opts.Threads, "number of query workers")
	f.StringVar(&opts.Suffix, "suffix", opts.Suffix, "suffix of the query files")
	f.IntVar(&maxResults, "max-results", 5, "neighbours printed per query")
	f.BoolVar(&noProgress, "no-progress", false, "hide the progress bar")
	_ = queryCmd.MarkFlagRequired("index")
	_ = queryCmd.MarkFlagRequired("dir")
	return queryCmd
}
