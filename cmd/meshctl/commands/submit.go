package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errUnsupportedSubmitType is returned for any --type other than
// "discovery": the admin surface exposes only a discovery-trigger write
// (spec.md §6's "a write endpoint that calls submit(broadcast,
// DISCOVERY, 0, 0, ∅)"), not a general-purpose submit.
var errUnsupportedSubmitType = errors.New("meshctl submit only supports --type discovery")

func submitCmd() *cobra.Command {
	var msgType string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a packet via the daemon (discovery broadcast only)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if msgType != "discovery" {
				return fmt.Errorf("%w: got %q", errUnsupportedSubmitType, msgType)
			}

			result, err := client.Discover()
			if err != nil {
				return fmt.Errorf("submit discovery: %w", err)
			}

			fmt.Printf("discovery broadcast submitted, packet_id=%d\n", result.PacketID)
			return nil
		},
	}

	cmd.Flags().StringVar(&msgType, "type", "discovery", "message type to submit (only \"discovery\" is supported)")

	return cmd
}
