package terminal

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultPingInterval = 10 * time.Second

func (r *Runner) newRunCommand() *cobra.Command {
	var pingEvery time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync in the background until interrupted",
		Long: `Run the sync engine: a cycle at startup, every sync_interval and whenever
the server becomes reachable again. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Syncing every %s with %s. Press Ctrl-C to stop.\n", r.cfg.SyncInterval, r.cfg.ServerURL)

			reconnect := watchConnectivity(ctx, r.client.Ping, pingEvery, r.logger)
			r.engine.Run(ctx, r.cfg.SyncInterval, reconnect)

			r.logger.Info("sync loop stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&pingEvery, "ping-interval", defaultPingInterval, "how often to check whether the server is reachable")

	return cmd
}

// watchConnectivity pings every interval and signals once each time the
// server comes back after being unreachable. The channel closes with ctx.
func watchConnectivity(ctx context.Context, ping func(context.Context) error, every time.Duration, logger *zap.Logger) <-chan struct{} {
	if every <= 0 {
		every = defaultPingInterval
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		online := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := ping(ctx)
			switch {
			case err != nil && online:
				online = false
				logger.Info("server unreachable", zap.Error(err))
			case err == nil && !online:
				online = true
				logger.Info("server reachable again")
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}
