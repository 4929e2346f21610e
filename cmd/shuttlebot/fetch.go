package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/shuttlebot/config"
	"github.com/hazyhaar/shuttlebot/route"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Scrape the schedule once and print it",
	Long: `Log in to the reservation portal, scrape the bus grid once and print
every route. Only the portal and browser settings are required.`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().Bool("json", false, "print JSON instead of a table")
}

func runFetch(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.ValidatePortal(); err != nil {
		return err
	}
	logger := newLogger(logLevel(cmd, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
	defer cancel()

	sess := newBrowser(cfg, logger)
	defer sess.Close()

	routes, err := newScraper(cfg, sess, logger).Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(routes)
	}
	return printRoutes(cmd, routes)
}

func printRoutes(cmd *cobra.Command, routes []route.Route) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNUMBER\tVEHICLE\tREGION\tDETAIL\tSEATS")
	for _, r := range routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.BusType, r.BusNumber, r.Vehicle, r.Region, r.Detail, r.Seats())
	}
	return tw.Flush()
}
