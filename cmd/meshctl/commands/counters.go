package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func countersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counters",
		Short: "Show engine activity counters",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			counters, err := client.Counters()
			if err != nil {
				return fmt.Errorf("get counters: %w", err)
			}

			out, err := formatCounters(counters, outputFormat)
			if err != nil {
				return fmt.Errorf("format counters: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
