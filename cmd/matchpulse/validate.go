package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/matchpulse/matchpulse/internal/config"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the MatchPulse configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump the effective configuration after validation")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)

	if cfg.APNS.KeyPath == "" {
		yellow := color.New(color.FgYellow)
		yellow.Fprintln(os.Stdout, "Warning: apns.key_path is empty, the server command will fail to start")
	}

	if validateDump {
		// Credentials stay out of the dump.
		dump := *cfg
		dump.Storage.Redis.Password = ""

		data, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
	}

	return nil
}
