package dirindexcli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"dirindex/internal/core/crawl"
	"dirindex/internal/core/walk"
)

func newCrawlCommand() *cobra.Command {
	var (
		workers  int
		batch    int
		scanAll  bool
		maxDepth int
		exclude  []string
	)
	cmd := &cobra.Command{
		Use:   "crawl [root]",
		Short: "Index every directory under root (seed or repair the index)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}

			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			root, err = filepath.Abs(root)
			if err != nil {
				return err
			}

			st, err := openIndex(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := crawl.Run(cmd.Context(), st, root, crawl.Options{
				Walk: walk.Options{
					ExcludeGlobs: exclude,
					ScanAll:      scanAll,
					MaxDepth:     maxDepth,
				},
				Workers:   workers,
				BatchSize: batch,
				Logger:    logger().Named("crawl"),
			})
			if err != nil {
				return err
			}

			if opts.Jsonl {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listed %d, indexed %d (%d with readme), skipped %d\n",
				stats.Listed, stats.Indexed, stats.Readmes, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "parallel readers (default: CPU/2)")
	cmd.Flags().IntVar(&batch, "batch", crawl.DefaultBatchSize, "documents per index write")
	cmd.Flags().BoolVarP(&scanAll, "all", "A", false, "include hidden and ignored directories")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "levels below root to descend (0: unlimited)")
	cmd.Flags().StringSliceVarP(&exclude, "exclude", "x", nil, "skip directories matching these globs (comma separated list: -x tmp*,scratch)")
	return cmd
}
