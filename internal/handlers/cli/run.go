package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/nodewatch/btcmonitor/internal/monitor"
	"github.com/nodewatch/btcmonitor/internal/pkg/logger"
	"github.com/nodewatch/btcmonitor/internal/pkg/x/chflow"
)

// runCommand returns a CLI command that loops Tick on tickInterval until it
// receives an interrupt or termination signal. The signal cancels ctx via
// signal.NotifyContext, and the loop reads the ticker through
// chflow.Receive the way the teacher's checkpointAndForward reads its
// block channel: a single context-aware receive stands in for the
// two-case select, since ctx.Done() already covers shutdown.
func runCommand(svc monitor.Api, tickInterval int64) *cli.Command {
	return &cli.Command{
		Name:        "run",
		Description: "Runs the monitor engine, ticking on a fixed interval until terminated.",
		Usage:       "Loops tick() until Ctrl+C or a termination signal.",
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(time.Duration(tickInterval) * time.Millisecond)
			defer ticker.Stop()

			for {
				if _, ok := chflow.Receive(ctx, ticker.C); !ok {
					return nil
				}

				if err := svc.Tick(ctx, time.Time{}); err != nil {
					if errors.Is(err, monitor.ErrBusy) {
						continue
					}
					if errors.Is(err, monitor.ErrDeepReorg) {
						logger.Error(ctx, "tick halted on deep reorg, widen reorg_window and restart", "error", err)
						return err
					}
					logger.Error(ctx, "tick failed", "error", err)
				}
			}
		},
	}
}
