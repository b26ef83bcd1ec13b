package dirindexcli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dirindex/internal/dirindexd"
)

func newConsumeCommand() *cobra.Command {
	var (
		mode     string
		strategy string
		workers  int
		watch    []string
		admin    string
		metrics  string
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume filesystem events from the broker and update the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := mustOptions(cmd)
			if err != nil {
				return err
			}
			cfg := opts.Config
			if cmd.Flags().Changed("mode") {
				cfg.Consumer.Mode = mode
			}
			if cmd.Flags().Changed("handler") {
				cfg.Consumer.Handler = strategy
			}
			if cmd.Flags().Changed("workers") {
				cfg.Consumer.Workers = workers
			}
			if cmd.Flags().Changed("admin") {
				cfg.Admin.Listen = admin
			}
			if cmd.Flags().Changed("metrics") {
				cfg.Metrics.Listen = metrics
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := dirindexd.NewDaemon(ctx, dirindexd.DaemonOptions{
				Config:     cfg,
				Logger:     logger(),
				WatchRoots: watch,
			})
			if err != nil {
				return err
			}
			defer d.Close()
			return runUntilSignal(ctx, d.Run)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "acknowledgement discipline: sync|threadsafe")
	cmd.Flags().StringVar(&strategy, "handler", "", "update handler: strict|fast")
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "worker pool size in threadsafe mode")
	cmd.Flags().StringSliceVarP(&watch, "watch", "w", nil, "also watch these local trees and feed their events to the broker")
	cmd.Flags().StringVar(&admin, "admin", "", "admin JSON-RPC listen address (empty disables)")
	cmd.Flags().StringVar(&metrics, "metrics", "", "prometheus listen address (empty disables)")
	return cmd
}

// runUntilSignal treats a signal-driven shutdown as success.
func runUntilSignal(ctx context.Context, run func(context.Context) error) error {
	err := run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
