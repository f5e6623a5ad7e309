package cmd

import (
	"fmt"

	"github.com/patrikhermansson/tohnsw/config"
	"github.com/patrikhermansson/tohnsw/dumpload"
	"github.com/patrikhermansson/tohnsw/pipeline"
	"github.com/patrikhermansson/tohnsw/source"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	var configPath string
	var noProgress bool
	flagCfg := config.DefaultConfig()

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Index a directory of sequence files and dump the index",
		Long: `Build walks --dir for files ending with the configured suffix, sketches
every record and inserts it into the graph. With --add the index previously
dumped in --dump is reloaded and extended instead of rebuilt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, flagCfg)
			if noProgress {
				cfg.Progress = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log.Info().Msgf("Setting max nb conn to %d, ef_search to %d", cfg.MaxNbConn(), cfg.EfSearch)

			st, err := dumpload.OpenIndex(cfg)
			if err != nil {
				return err
			}
			sk, err := st.Params.Sketcher()
			if err != nil {
				return err
			}
			p, err := pipeline.New(sk, st.Index, st.Dict, pipeline.Options{
				Readers:   cfg.Readers,
				Indexers:  cfg.Indexers,
				QueueSize: cfg.QueueSize,
				Suffix:    cfg.Suffix,
				Filter:    source.Filter{Exclude: cfg.Exclude},
				Progress:  cfg.Progress,
			})
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context(), cfg.Dir)
			if err != nil {
				return err
			}
			st.Index.LogLayerInfo()
			if err := dumpload.DumpAll(cfg.DumpDir, st); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "files=%d records=%d inserted=%d excluded=%d too_short=%d vertices=%d dump=%s\n",
				res.Files, res.Records, res.Inserted, res.Excluded, res.TooShort, st.Index.Len(), cfg.DumpDir)
			return nil
		},
	}

	f := buildCmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML configuration file")
	f.StringVarP(&flagCfg.Dir, "dir", "d", flagCfg.Dir, "directory containing genomes to index")
	f.IntVarP(&flagCfg.Kmer, "kmer", "k", flagCfg.Kmer, "k-mer size used for sketching")
	f.IntVarP(&flagCfg.Sketch, "sketch", "s", flagCfg.Sketch, "size of the MinHash sketch")
	f.IntVarP(&flagCfg.Nbng, "nbng", "n", flagCfg.Nbng, "number of neighbours in the HNSW graph")
	f.StringVar(&flagCfg.DumpDir, "dump", flagCfg.DumpDir, "directory the index is dumped to")
	f.BoolVar(&flagCfg.AddingMode, "add", flagCfg.AddingMode, "extend the index already dumped in --dump")
	f.BoolVar(&flagCfg.Canonical, "canonical", flagCfg.Canonical, "sketch canonical k-mers")
	f.IntVar(&flagCfg.MaxElements, "max-elements", flagCfg.MaxElements, "expected number of sequences")
	f.IntVar(&flagCfg.EfConstruction, "ef-construction", flagCfg.EfConstruction, "search breadth while inserting")
	f.IntVar(&flagCfg.EfSearch, "ef-search", flagCfg.EfSearch, "default search breadth of queries")
	f.StringVar(&flagCfg.Suffix, "suffix", flagCfg.Suffix, "suffix of the files to index")
	f.StringVar(&flagCfg.Exclude, "exclude", flagCfg.Exclude, "skip records whose identifier contains this token")
	f.IntVar(&flagCfg.Readers, "readers", flagCfg.Readers, "number of reader workers")
	f.IntVar(&flagCfg.Indexers, "indexers", flagCfg.Indexers, "number of indexer workers")
	f.IntVar(&flagCfg.QueueSize, "queue", flagCfg.QueueSize, "sketches buffered between readers and indexers")
	f.Int64Var(&flagCfg.Seed, "seed", flagCfg.Seed, "seed of the layer assignment (0 uses TOHNSW_SEED or the clock)")
	f.BoolVar(&noProgress, "no-progress", false, "hide the progress bar")
	return buildCmd
}

// applyFlags copies every flag set on the command line from flagCfg into cfg,
// so that flags override the configuration file.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flagCfg config.Config) {
	setters := map[string]func(){
		"dir":             func() { cfg.Dir = flagCfg.Dir },
		"kmer":            func() { cfg.Kmer = flagCfg.Kmer },
		"sketch":          func() { cfg.Sketch = flagCfg.Sketch },
		"nbng":            func() { cfg.Nbng = flagCfg.Nbng },
		"dump":            func() { cfg.DumpDir = flagCfg.DumpDir },
		"add":             func() { cfg.AddingMode = flagCfg.AddingMode },
		"canonical":       func() { cfg.Canonical = flagCfg.Canonical },
		"max-elements":    func() { cfg.MaxElements = flagCfg.MaxElements },
		"ef-construction": func() { cfg.EfConstruction = flagCfg.EfConstruction },
		"ef-search":       func() { cfg.EfSearch = flagCfg.EfSearch },
		"suffix":          func() { cfg.Suffix = flagCfg.Suffix },
		"exclude":         func() { cfg.Exclude = flagCfg.Exclude },
		"readers":         func() { cfg.Readers = flagCfg.Readers },
		"indexers":        func() { cfg.Indexers = flagCfg.Indexers },
		"queue":           func() { cfg.QueueSize = flagCfg.QueueSize },
		"seed":            func() { cfg.Seed = flagCfg.Seed },
	}
	for name, set := range setters {
		if cmd.Flags().Changed(name) {
			set()
		}
	}
}
