package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/workpool/engine"
)

// newServeCommand constructs the `serve` command: the reaper and the
// retention janitor, run until SIGINT or SIGTERM.
func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run ledger maintenance (stale-item reaper and retention purge)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				if err := eng.Start(ctx); err != nil {
					return err
				}
				<-ctx.Done()

				eng.Logger().Info("shutdown signal received")
				return eng.Stop(context.WithoutCancel(ctx))
			})
		},
	}
}
