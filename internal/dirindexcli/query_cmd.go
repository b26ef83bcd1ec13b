package dirindexcli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dirindex/internal/core/pathmeta"
	"dirindex/internal/dirindexd"
	"dirindex/internal/model"
)

func newSearchCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <q>",
		Short: "Search indexed directories by path, readme or title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}
			q := strings.Join(args, " ")

			var hits []model.SearchHit
			if opts.Remote != "" {
				c, err := dirindexd.Dial(opts.Remote)
				if err != nil {
					return err
				}
				defer c.Close()
				hits, err = c.DirSearch(dirindexd.DirSearchParams{Q: q, Limit: limit})
				if err != nil {
					return err
				}
			} else {
				st, err := openIndex(opts)
				if err != nil {
					return err
				}
				defer st.Close()
				hits, err = st.Search(cmd.Context(), q, limit)
				if err != nil {
					return err
				}
			}

			if opts.Jsonl {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), RenderJSONL(hits))
			} else {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), RenderHits(hits))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Show the indexed document for a directory path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}

			var doc model.DirectoryDocument
			if opts.Remote != "" {
				c, err := dirindexd.Dial(opts.Remote)
				if err != nil {
					return err
				}
				defer c.Close()
				res, err := c.DirGet(dirindexd.DirGetParams{Path: args[0]})
				if err != nil {
					return err
				}
				doc = res.Doc
			} else {
				st, err := openIndex(opts)
				if err != nil {
					return err
				}
				defer st.Close()
				doc, err = st.GetDir(cmd.Context(), pathmeta.DeriveID(args[0]))
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !opts.Jsonl {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(doc)
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show counters of a running dirindexd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}
			addr := opts.Remote
			if addr == "" {
				addr = opts.Config.Admin.Listen
			}
			c, err := dirindexd.Dial(addr)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if !opts.Jsonl {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(stats)
		},
	}
}
