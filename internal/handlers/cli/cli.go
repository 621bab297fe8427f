// Package cli wires the monitor facade into a urfave/cli/v3 application,
// generalized from the teacher's blockwatch CLI shell (start/watch/unwatch)
// onto the run/status/monitor add/monitor cancel surface in spec §6c.
package cli

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/nodewatch/btcmonitor/internal/monitor"
)

// Run initializes and executes the btcmonitor CLI application.
//
// It registers all available commands:
//
//   - `run`: loops tick() on a configurable interval until SIGINT/SIGTERM.
//   - `status`: prints the current cursor and pending news count.
//   - `monitor add`: registers a new monitor.
//   - `monitor cancel`: cancels an existing monitor.
func Run(ctx context.Context, svc monitor.Api, tickInterval int64) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "btcmonitor",
		Description:           "Command-line interface for running and querying the Bitcoin transaction monitor.",
		Usage:                 "btcmonitor [command] [flags]",
		Commands: []*cli.Command{
			runCommand(svc, tickInterval),
			statusCommand(svc),
			monitorCommand(svc),
		},
	}

	return app.Run(ctx, os.Args)
}
