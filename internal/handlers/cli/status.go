package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/nodewatch/btcmonitor/internal/monitor"
)

// statusCommand prints the current cursor and pending news count, per spec
// §6c's `status` command.
func statusCommand(svc monitor.Api) *cli.Command {
	return &cli.Command{
		Name:        "status",
		Description: "Prints the current monitor height and pending news count.",
		Usage:       "Reports cursor height, readiness, and unacked news count.",
		Action: func(ctx context.Context, c *cli.Command) error {
			height, err := svc.GetMonitorHeight(ctx)
			if err != nil {
				return err
			}

			ready, err := svc.IsReady(ctx)
			if err != nil {
				return err
			}

			news, err := svc.GetNews(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("height: %d\n", height)
			fmt.Printf("ready: %t\n", ready)
			fmt.Printf("pending_news: %d\n", len(news))
			fmt.Printf("confirmation_threshold: %d\n", svc.GetConfirmationThreshold(ctx))
			return nil
		},
	}
}
