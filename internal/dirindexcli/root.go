package dirindexcli

import (
	"github.com/spf13/cobra"

	"dirindex/internal/logging"
	"dirindex/internal/version"
)

func NewRootCommand() *cobra.Command {
	opts := newDefaultOptions()
	cmd := &cobra.Command{
		Use:          "dirindex",
		Short:        "Keep a directory search index in sync with filesystem events",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.Version = version.String()
	cmd.InitDefaultVersionFlag()
	if f := cmd.Flags().Lookup("version"); f != nil {
		f.Shorthand = "v"
	}

	withOptionsContext(cmd, opts)
	bindFlags(cmd, opts)

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if opts := optionsFrom(cmd); opts != nil {
			return opts.Prepare()
		}
		return nil
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		_ = logging.Sync()
	}

	cmd.AddCommand(newConsumeCommand())
	cmd.AddCommand(newCrawlCommand())
	cmd.AddCommand(newWatchCommand())
	cmd.AddCommand(newPublishCommand())
	cmd.AddCommand(newSearchCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newStatusCommand())
	return cmd
}
