// Package main is the entry point for the shuttlebot CLI.
//
// Usage:
//
//	shuttlebot run -c shuttlebot.yaml      # Connect to Discord and monitor
//	shuttlebot fetch -c shuttlebot.yaml    # Scrape the schedule once and print it
//	shuttlebot validate -c shuttlebot.yaml # Validate configuration
//	shuttlebot version                     # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "shuttlebot",
	Short: "Shuttle bus seat monitor for Discord",
	Long: `shuttlebot scrapes the campus shuttle reservation page and posts seat
changes for watched routes to a Discord channel.

Secrets can come from the environment instead of the config file:
  DISCORD_BOT_TOKEN, DISCORD_CHANNEL_ID, PORTAL_USER_ID, PORTAL_PASSWORD,
  CHROME_BIN, SHUTTLEBOT_DB`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shuttlebot %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (env-only when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger returns a JSON logger on stderr at the given level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// logLevel picks the --log-level flag over the configured level.
func logLevel(cmd *cobra.Command, configured string) string {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		return v
	}
	return configured
}
