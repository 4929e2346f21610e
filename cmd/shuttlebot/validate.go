package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/shuttlebot/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the config file, apply environment overrides and validate every
field without connecting to anything. Exits non-zero when invalid.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	transport := "discord"
	if cfg.Console {
		transport = "console"
	}
	fmt.Fprintln(out, "Config is valid.")
	fmt.Fprintf(out, "  Transport: %s\n", transport)
	fmt.Fprintf(out, "  Portal:    %s\n", cfg.Portal.URL)
	fmt.Fprintf(out, "  Schedule:  %s (%s)\n", cfg.Schedule.Cron, cfg.Schedule.Timezone)
	if cfg.DBPath != "" {
		fmt.Fprintf(out, "  History:   %s\n", cfg.DBPath)
	}
	if cfg.HTTP.Listen != "" {
		fmt.Fprintf(out, "  HTTP:      %s\n", cfg.HTTP.Listen)
	}
	return nil
}
