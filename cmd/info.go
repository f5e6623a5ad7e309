package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/patrikhermansson/tohnsw/config"
	"github.com/patrikhermansson/tohnsw/dumpload"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	var indexDir string

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print the parameters and layer statistics of a dumped index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			params, err := config.ReloadParams(filepath.Join(indexDir, dumpload.ParamsFile))
			if err != nil {
				return err
			}
			printParams(out, params)

			// A run over an empty corpus only leaves its parameters behind.
			if _, err := os.Stat(filepath.Join(indexDir, dumpload.GraphFile)); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(out, "no graph dumped")
				return nil
			}
			st, err := dumpload.ReloadAll(indexDir)
			if err != nil {
				return err
			}
			stats := st.Index.Stats()
			fmt.Fprintf(out, "vertices:        %d\n", stats.Count)
			fmt.Fprintf(out, "max level:       %d\n", stats.MaxLevel)
			for l := len(stats.Layers) - 1; l >= 0; l-- {
				fmt.Fprintf(out, "  layer %2d: %8d vertices, mean degree %.2f\n", l, stats.Layers[l], stats.MeanDegree[l])
			}
			return nil
		},
	}

	infoCmd.Flags().StringVar(&indexDir, "index", "", "directory holding a dumped index")
	_ = infoCmd.MarkFlagRequired("index")
	return infoCmd
}

func printParams(w io.Writer, p config.ProcessingParams) {
	fmt.Fprintf(w, "run id:          %s\n", p.RunID)
	fmt.Fprintf(w, "created:         %s\n", p.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "kmer:            %d\n", p.Kmer)
	fmt.Fprintf(w, "sketch size:     %d\n", p.SketchSize)
	fmt.Fprintf(w, "canonical:       %t\n", p.Canonical)
	fmt.Fprintf(w, "nbng:            %d\n", p.Nbng)
	fmt.Fprintf(w, "max nb conn:     %d\n", p.MaxNbConn)
	fmt.Fprintf(w, "ef construction: %d\n", p.EfConstruction)
	fmt.Fprintf(w, "ef search:       %d\n", p.EfSearch)
	fmt.Fprintf(w, "max elements:    %d\n", p.MaxElements)
	fmt.Fprintf(w, "adding mode:     %t\n", p.AddingMode)
}
