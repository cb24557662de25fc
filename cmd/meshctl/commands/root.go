// Package commands implements the meshctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// client talks to meshnode's admin HTTP surface.
	client *adminClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the meshnode admin HTTP address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for meshctl.
var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "CLI client for the meshnode daemon",
	Long:  "meshctl talks to a meshnode daemon's admin HTTP surface to inspect routing state and trigger discovery.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = &adminClient{
			baseURL: "http://" + serverAddr,
			http:    &http.Client{Timeout: 10 * time.Second},
		}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"meshnode admin HTTP address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(countersCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
