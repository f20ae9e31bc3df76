// Package ctl implements the kestrelctl operator CLI.
package ctl

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "kestrelctl",
	Short: "Kestrel Correlate operator CLI",
	Long: `kestrelctl is the command-line interface for the Kestrel correlation service.

Seed synthetic events for testing, inspect pipeline statistics and recent
verdicts, and submit analyst feedback from your terminal.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8091", "correlate service base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for authenticated endpoints")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verdictsCmd)
	rootCmd.AddCommand(feedbackCmd)
}
