package dirindexcli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dirindex/internal/core/walk"
	"dirindex/internal/core/watch"
)

func newWatchCommand() *cobra.Command {
	var (
		debounce time.Duration
		adaptive bool
		scanAll  bool
		exclude  []string
	)
	cmd := &cobra.Command{
		Use:   "watch <root>",
		Short: "Publish MKDIR/RMDIR/SYMLINK/DEPOSIT/REMOVE events for a local tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pub, closePub, err := openPublisher(ctx, opts)
			if err != nil {
				return err
			}
			defer closePub()

			w, err := watch.New(args[0], pub, watch.Options{
				Filter:           walk.Options{ScanAll: scanAll, ExcludeGlobs: exclude},
				Debounce:         debounce,
				AdaptiveDebounce: adaptive,
				Logger:           logger().Named("watch"),
			})
			if err != nil {
				return err
			}
			defer w.Close()

			logger().Info("watching", zap.String("root", args[0]))
			return runUntilSignal(ctx, w.Run)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "coalesce events for this long before publishing")
	cmd.Flags().BoolVar(&adaptive, "adaptive", false, "grow the debounce window under bursts")
	cmd.Flags().BoolVarP(&scanAll, "all", "A", false, "include hidden and ignored directories")
	cmd.Flags().StringSliceVarP(&exclude, "exclude", "x", nil, "skip directories matching these globs")
	return cmd
}
