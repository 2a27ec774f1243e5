package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jholhewres/archivebot/pkg/archivebot/browser"
	"github.com/jholhewres/archivebot/pkg/archivebot/config"
	"github.com/jholhewres/archivebot/pkg/archivebot/console"
	"github.com/jholhewres/archivebot/pkg/archivebot/generator"
	"github.com/jholhewres/archivebot/pkg/archivebot/journal"
	"github.com/jholhewres/archivebot/pkg/archivebot/metrics"
	"github.com/jholhewres/archivebot/pkg/archivebot/notify"
	"github.com/jholhewres/archivebot/pkg/archivebot/schedule"
	"github.com/jholhewres/archivebot/pkg/archivebot/telegram"
	"github.com/jholhewres/archivebot/pkg/archivebot/triage"
)

// newRunCmd creates the `archivebot run` command that drives the loop.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"serve"},
		Short:   "Open Telegram Web and answer unread archived chats",
		Long: `Start a browser session on Telegram Web K, wait for the login to be
confirmed, open the Archived Chats folder and answer unread conversations
until interrupted (Ctrl+C or SIGTERM).

Examples:
  archivebot run
  archivebot run --headless --auth-timeout 10m
  archivebot run --config ./config.yaml --no-journal`,
		RunE: runLoop,
	}

	cmd.Flags().Bool("headless", false, "run Chrome without a window (login must already be stored in the profile)")
	cmd.Flags().Duration("auth-timeout", 0, "how long to wait for the login (default from config)")
	cmd.Flags().Bool("no-journal", false, "do not record runs and cycles")
	return cmd
}

func runLoop(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger, closeLog, err := newLogger(cfg.Logging, verbose, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	if configPath == "" {
		logger.Info("no config file found, using defaults", "hint", "archivebot config init")
	} else {
		logger.Info("config loaded", "path", configPath)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	config.ResolveAPIKey(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := generator.New(cfg.Generator, logger)
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	var gate triage.ActivityGate
	if cfg.Loop.ActiveHours != "" {
		hours, err := schedule.NewActiveHours(cfg.Loop.ActiveHours, cfg.Loop.Timezone)
		if err != nil {
			return err
		}
		gate = hours
		now := time.Now()
		if !hours.Active(now) {
			logger.Info("outside active hours", "hours", hours.String(),
				"next", humanize.Time(hours.Next(now)))
		}
	}

	var observers triage.Observers

	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		observers = append(observers, store)
	}

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector()
		observers = append(observers, collector)
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address, collector, logger); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	if cfg.Notify.DiscordWebhookURL != "" {
		notifier, err := notify.NewDiscord(cfg.Notify.DiscordWebhookURL, cfg.Notify.Events, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := notifier.Close(closeCtx); err != nil {
				logger.Warn("pending notifications dropped", "error", err)
			}
		}()
		observers = append(observers, notifier)
	}

	session := browser.NewSession(cfg.Browser, logger)
	site := telegram.New(session, cfg.Site, logger)

	loop, err := triage.NewSchedulerLoop(cfg.TriageConfig(), triage.Deps{
		Session:   session,
		Site:      site,
		Probe:     site,
		Prompter:  console.New(os.Stdin, os.Stderr),
		Generator: gen,
		Gate:      gate,
		Budget:    cfg.ReplyBudget(),
		Observer:  observers,
		Logger:    logger,
	})
	if err != nil {
		session.Close()
		return err
	}

	if store != nil {
		info := journal.RunInfo{ID: loop.RunID(), URL: cfg.Loop.URL, Model: gen.Model()}
		if err := store.BeginRun(ctx, info); err != nil {
			logger.Warn("journal unavailable for this run", "error", err)
		}
	}

	started := time.Now()
	final, err := loop.Run(ctx)
	logger.Info("archivebot finished",
		"state", final,
		"ran", strings.TrimSpace(humanize.RelTime(started, time.Now(), "", "")))

	switch {
	case errors.Is(err, triage.ErrNotAuthenticated):
		return fmt.Errorf("%w: log in to Telegram Web in the browser window and confirm within %ds",
			err, cfg.Loop.AuthTimeoutSeconds)
	case errors.Is(err, triage.ErrArchiveUnavailable):
		return fmt.Errorf("%w: check that the account has an Archived Chats folder", err)
	}
	return err
}

// applyRunFlags overrides config values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.Browser.Headless, _ = flags.GetBool("headless")
	}
	if flags.Changed("auth-timeout") {
		d, _ := flags.GetDuration("auth-timeout")
		if d < time.Second {
			return fmt.Errorf("--auth-timeout must be at least 1s, got %s", d)
		}
		cfg.Loop.AuthTimeoutSeconds = int(d / time.Second)
	}
	if noJournal, _ := flags.GetBool("no-journal"); noJournal {
		cfg.Journal.Enabled = false
	}
	return nil
}
