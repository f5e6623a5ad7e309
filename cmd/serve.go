package cmd

import (
	"github.com/patrikhermansson/tohnsw/config"
	"github.com/patrikhermansson/tohnsw/dumpload"
	"github.com/patrikhermansson/tohnsw/query"
	"github.com/patrikhermansson/tohnsw/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var indexDir, addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve nearest-neighbour queries over HTTP",
		Long: `Serve reloads a dumped index and answers POST /search requests until
interrupted. GET /stats describes the index and GET /metrics exposes Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := dumpload.ReloadAll(indexDir)
			if err != nil {
				return err
			}
			s, err := query.NewSearcher(st)
			if err != nil {
				return err
			}
			return server.New(s, addr).Run(cmd.Context())
		},
	}

	serveCmd.Flags().StringVar(&indexDir, "index", "", "directory holding a dumped index")
	serveCmd.Flags().StringVar(&addr, "addr", config.DefaultAddr, "listen address")
	_ = serveCmd.MarkFlagRequired("index")
	return serveCmd
}
