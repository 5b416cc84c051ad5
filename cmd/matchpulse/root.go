package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "matchpulse",
	Short: "MatchPulse - Live fantasy matchup push service for lock-screen widgets",
	Long: `MatchPulse keeps lock-screen matchup widgets current. It tracks ephemeral
widget sessions per device, aggregates fantasy matchup scoring with one
consolidated upstream fetch per cycle, and pushes only meaningful changes
over the one-way APNs channel.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to server command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/matchpulse/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
