package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll routing table and counters until interrupted",
		Long:  "Connects to the meshnode admin surface and polls /routes and /counters on an interval until interrupted (Ctrl+C). There is no push/streaming endpoint; this is polling, not a subscription.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			if err := printSnapshot(); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := printSnapshot(); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")

	return cmd
}

func printSnapshot() error {
	counters, err := client.Counters()
	if err != nil {
		return fmt.Errorf("poll counters: %w", err)
	}
	routes, err := client.Routes()
	if err != nil {
		return fmt.Errorf("poll routes: %w", err)
	}

	fmt.Printf("[%s] rx=%d tx=%d routes=%d\n", time.Now().Format(time.RFC3339), counters.RX, counters.TX, len(routes))
	return nil
}
