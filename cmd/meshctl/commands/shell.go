package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive meshctl shell",
		Long:  "Launches a reeflective/console REPL over the same routes/counters/submit/monitor commands.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("meshctl")

			menu := app.ActiveMenu()
			menu.SetCommands(func() *cobra.Command {
				return shellRootCmd()
			})

			if err := app.Start(); err != nil {
				return fmt.Errorf("start shell: %w", err)
			}
			return nil
		},
	}
}

// shellRootCmd builds a fresh command tree for each shell read, mirroring
// rootCmd's subcommands minus "shell" itself (a shell cannot nest).
func shellRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meshctl",
		Short:         "meshctl interactive shell",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(routesCmd())
	root.AddCommand(countersCmd())
	root.AddCommand(submitCmd())
	root.AddCommand(monitorCmd())
	root.AddCommand(versionCmd())
	return root
}
