package dirindexcli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dirindex/internal/consumer"
	"dirindex/internal/model"
)

func newPublishCommand() *cobra.Command {
	var filesize string
	cmd := &cobra.Command{
		Use:   "publish <action> <path> [message...]",
		Short: "Publish one event line to the broker",
		Example: "  dirindex publish MKDIR /badc/cmip6/data\n" +
			"  dirindex publish DEPOSIT /badc/cmip6/data/00README --size 120",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}

			action := model.ParseAction(args[0])
			if !action.Known() {
				return fmt.Errorf("invalid action %q (expected: MKDIR|RMDIR|SYMLINK|DEPOSIT|REMOVE)", args[0])
			}
			if strings.Contains(args[1], ":") {
				return fmt.Errorf("path %q contains ':' which the line format cannot carry", args[1])
			}
			body := consumer.Encode(model.IngestMessage{
				Time:     time.Now(),
				Filepath: args[1],
				Action:   action,
				Filesize: filesize,
				Message:  strings.Join(args[2:], " "),
			})

			pub, closePub, err := openPublisher(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closePub()

			if err := pub.Publish(cmd.Context(), body); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&filesize, "size", "0", "filesize field")
	return cmd
}
