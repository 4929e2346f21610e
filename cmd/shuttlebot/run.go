package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/shuttlebot/channels"
	"github.com/hazyhaar/shuttlebot/chassis"
	"github.com/hazyhaar/shuttlebot/commands"
	"github.com/hazyhaar/shuttlebot/config"
	"github.com/hazyhaar/shuttlebot/history"
	"github.com/hazyhaar/shuttlebot/internal/browser"
	"github.com/hazyhaar/shuttlebot/internal/scheduler"
	"github.com/hazyhaar/shuttlebot/internal/scraper"
	"github.com/hazyhaar/shuttlebot/monitor"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and monitor watched routes",
	Long: `Connect to the chat channel, load the schedule once and serve commands.
Watched routes are re-checked on the configured cron cadence until nothing
is watched. Runs until interrupted (Ctrl+C) or SIGTERM.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// Blocking the grid's stylesheets hides the search button, so only heavy
// media is dropped.
var blockedResources = []string{"image", "font", "media"}

func newBrowser(cfg *config.Config, logger *slog.Logger) *browser.Session {
	bc := browser.Config{
		Bin:             cfg.Browser.Bin,
		RemoteURL:       cfg.Browser.RemoteURL,
		Headless:        cfg.Browser.Headless,
		NoSandbox:       cfg.Browser.NoSandbox,
		RecycleInterval: cfg.Browser.RecycleInterval,
		Logger:          logger,
	}
	if cfg.Browser.BlockResources {
		bc.ResourceBlocking = blockedResources
	}
	return browser.NewSession(bc)
}

func newScraper(cfg *config.Config, sess *browser.Session, logger *slog.Logger) *scraper.Scraper {
	return scraper.New(sess, scraper.Config{
		URL:         cfg.Portal.URL,
		UserID:      cfg.Portal.UserID,
		Password:    cfg.Portal.Password,
		PageTimeout: cfg.Portal.PageTimeout,
		LoginDelay:  cfg.Portal.LoginDelay,
		SettleDelay: cfg.Portal.SettleDelay,
		Logger:      logger,
	})
}

func newChannel(cfg *config.Config, logger *slog.Logger) (ch channels.Channel, target string, err error) {
	if cfg.Console {
		return channels.NewConsole("console", "console", os.Stdin, os.Stdout), "console", nil
	}
	ch, err = channels.NewDiscord("discord", channels.DiscordConfig{
		BotToken: cfg.Discord.Token,
		GuildID:  cfg.Discord.GuildID,
	}, logger)
	if err != nil {
		return nil, "", err
	}
	return ch, cfg.Discord.ChannelID, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger := newLogger(logLevel(cmd, cfg.LogLevel))
	slog.SetDefault(logger)
	logger.Info("shuttlebot: starting", "version", version, "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	loc := cfg.Location()

	// History (optional).
	var (
		recorder monitor.Recorder
		hist     chassis.History
	)
	if cfg.DBPath != "" {
		h, err := history.Open(cfg.DBPath, history.WithLogger(logger))
		if err != nil {
			return err
		}
		defer h.Close()
		if cfg.HistoryRetention > 0 {
			if n, err := h.Prune(ctx, time.Now().Add(-cfg.HistoryRetention)); err != nil {
				logger.Warn("shuttlebot: prune history", "error", err)
			} else if n > 0 {
				logger.Info("shuttlebot: pruned history", "rows", n)
			}
		}
		recorder, hist = h, h
	}

	// Scraping.
	sess := newBrowser(cfg, logger)
	defer sess.Close()
	scr := newScraper(cfg, sess, logger)

	// Chat transport. The handler is bound once the engine exists.
	ch, target, err := newChannel(cfg, logger)
	if err != nil {
		return err
	}
	defer ch.Close()

	var handler *commands.Handler
	disp := channels.NewDispatcher(ch, target,
		func(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
			return handler.Handle(ctx, msg)
		},
		channels.WithLogger(logger),
	)

	// Engine and its cron trigger.
	var eng *monitor.Engine
	sched, err := scheduler.New(scheduler.Config{
		Spec:     cfg.Schedule.Cron,
		Location: loc,
		Logger:   logger,
	}, func() { eng.Kick() })
	if err != nil {
		return err
	}
	eng = monitor.New(monitor.NewStore(), scr, sess, disp, sched, monitor.Config{
		Logger:   logger,
		Recorder: recorder,
	})

	channelID := cfg.Discord.ChannelID
	if cfg.Console {
		channelID = ""
	}
	handler = commands.New(eng, commands.Config{
		Prefix:      cfg.CommandPrefix,
		ChannelID:   channelID,
		LoadTimeout: cfg.LoadTimeout,
		Schedule:    sched.Spec(),
		Location:    loc,
		Logger:      logger,
	})

	var wg sync.WaitGroup
	sched.Start()

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	// Initial snapshot, off the event loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
		defer cancel()
		n, err := eng.Refresh(loadCtx)
		if err != nil {
			logger.Warn("shuttlebot: initial load failed", "error", err)
			return
		}
		logger.Info("shuttlebot: initial load", "routes", n)
	}()

	if cfg.HTTP.Listen != "" {
		srv, err := chassis.New(chassis.Config{
			Addr:          cfg.HTTP.Listen,
			Monitor:       eng,
			History:       hist,
			Connection:    ch.Status,
			BrowserActive: sess.Active,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				logger.Error("shuttlebot: http server", "error", err)
			}
		}()
	}

	runErr := disp.Run(ctx)
	stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sched.Stop(stopCtx)
	wg.Wait()
	logger.Info("shuttlebot: stopped")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("shuttlebot: %w", runErr)
	}
	return nil
}
