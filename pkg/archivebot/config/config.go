// Package config loads and validates the archivebot configuration file.
//
// A config.yaml has one section per component:
//
//	browser:    Chrome session (binary, profile dir, headless, CDP endpoint)
//	site:       Telegram Web K adapter (delays, selectors)
//	generator:  OpenAI-compatible endpoint and persona
//	loop:       pacing ranges, active hours, reply budget
//	journal:    SQLite outcome journal
//	metrics:    Prometheus endpoint
//	notify:     Discord webhook
//	logging:    level, format, optional file
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jholhewres/archivebot/pkg/archivebot/browser"
	"github.com/jholhewres/archivebot/pkg/archivebot/generator"
	"github.com/jholhewres/archivebot/pkg/archivebot/telegram"
	"github.com/jholhewres/archivebot/pkg/archivebot/triage"
)

// Config is the top-level configuration.
type Config struct {
	Browser   browser.Config   `yaml:"browser"`
	Site      telegram.Config  `yaml:"site"`
	Generator generator.Config `yaml:"generator"`
	Loop      LoopConfig       `yaml:"loop"`
	Journal   JournalConfig    `yaml:"journal"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Notify    NotifyConfig     `yaml:"notify"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// SecondsRange is an inclusive [min, max] range in seconds.
type SecondsRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Range converts r for the loop.
func (r SecondsRange) Range() triage.Range {
	return triage.Seconds(r.Min, r.Max)
}

// LoopConfig configures the scheduler loop.
type LoopConfig struct {
	// URL is the web client address (default: https://web.telegram.org/k).
	URL string `yaml:"url"`

	// AuthTimeoutSeconds bounds the wait for a logged-in page (default: 300).
	AuthTimeoutSeconds int `yaml:"auth_timeout_seconds"`

	// AuthPollSeconds is the interval between login checks (default: 2).
	AuthPollSeconds int `yaml:"auth_poll_seconds"`

	// HistoryWindow is the number of recent messages given to the
	// generator (default: 30).
	HistoryWindow int `yaml:"history_window"`

	// IgnoreMuted skips muted archived chats.
	IgnoreMuted bool `yaml:"ignore_muted"`

	IdleBackoff     SecondsRange `yaml:"idle_backoff"`
	ReplyPause      SecondsRange `yaml:"reply_pause"`
	SilencePause    SecondsRange `yaml:"silence_pause"`
	RecoverySeconds int          `yaml:"recovery_seconds"`

	// ActiveHours is a cron expression selecting the minutes in which the
	// loop scans, e.g. "* 9-23 * * *". Empty means always.
	ActiveHours string `yaml:"active_hours"`

	// Timezone for ActiveHours. Empty uses the local zone.
	Timezone string `yaml:"timezone"`

	// MaxRepliesPerHour limits started cycles. 0 disables the limit.
	MaxRepliesPerHour int `yaml:"max_replies_per_hour"`
}

// JournalConfig configures the outcome journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// NotifyConfig configures webhook notifications.
type NotifyConfig struct {
	// DiscordWebhookURL is a full webhook URL
	// (https://discord.com/api/webhooks/<id>/<token>). Empty disables
	// notifications.
	DiscordWebhookURL string `yaml:"discord_webhook_url"`

	// Events selects what is sent: replied, failed, recovery, stopped.
	Events []string `yaml:"events"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`

	// File, when set, receives a copy of the logs in addition to stderr.
	File string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	loop := triage.DefaultConfig()
	return &Config{
		Browser:   browser.DefaultConfig(),
		Site:      telegram.DefaultConfig(),
		Generator: generator.DefaultConfig(),
		Loop: LoopConfig{
			URL:                loop.URL,
			AuthTimeoutSeconds: int(loop.Auth.Timeout / time.Second),
			AuthPollSeconds:    int(loop.Auth.PollInterval / time.Second),
			HistoryWindow:      loop.HistoryWindow,
			IdleBackoff:        SecondsRange{Min: 10, Max: 30},
			ReplyPause:         SecondsRange{Min: 3, Max: 15},
			SilencePause:       SecondsRange{Min: 3, Max: 10},
			RecoverySeconds:    int(loop.RecoveryPause / time.Second),
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "./data/journal.db",
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9464",
		},
		Notify: NotifyConfig{
			Events: []string{"failed", "recovery", "stopped"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// KnownEvents lists the notification event names.
var KnownEvents = []string{"replied", "failed", "recovery", "stopped"}

// Validate checks the configuration for values the components would reject
// at start-up.
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.CDPURL == "" && c.Browser.UserDataDir == "" {
		errs = append(errs, errors.New("browser.user_data_dir is required unless browser.cdp_url is set"))
	}
	if c.Browser.TimeoutSeconds <= 0 || c.Browser.PageLoadTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("browser timeouts must be positive"))
	}
	if c.Generator.Model == "" {
		errs = append(errs, errors.New("generator.model is required"))
	}
	if c.Generator.RequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("generator.request_timeout_seconds must be positive"))
	}
	if c.Loop.AuthTimeoutSeconds <= 0 || c.Loop.AuthPollSeconds <= 0 {
		errs = append(errs, errors.New("loop auth timeout and poll interval must be positive"))
	}
	if c.Loop.MaxRepliesPerHour < 0 {
		errs = append(errs, errors.New("loop.max_replies_per_hour must not be negative"))
	}
	if c.Loop.Timezone != "" {
		if _, err := time.LoadLocation(c.Loop.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("loop.timezone: %w", err))
		}
	}
	if err := c.TriageConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("loop: %w", err))
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when the journal is enabled"))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address is required when metrics are enabled"))
	}
	for _, ev := range c.Notify.Events {
		if !isKnownEvent(ev) {
			errs = append(errs, fmt.Errorf("notify.events: unknown event %q (want one of %s)",
				ev, strings.Join(KnownEvents, ", ")))
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func isKnownEvent(name string) bool {
	for _, known := range KnownEvents {
		if name == known {
			return true
		}
	}
	return false
}

// TriageConfig converts the loop section for triage.NewSchedulerLoop.
func (c *Config) TriageConfig() triage.Config {
	out := triage.DefaultConfig()
	out.URL = c.Loop.URL
	out.Auth.URL = c.Loop.URL
	out.Auth.Timeout = time.Duration(c.Loop.AuthTimeoutSeconds) * time.Second
	out.Auth.PollInterval = time.Duration(c.Loop.AuthPollSeconds) * time.Second
	out.HistoryWindow = c.Loop.HistoryWindow
	out.IgnoreMuted = c.Loop.IgnoreMuted
	out.IdleBackoff = c.Loop.IdleBackoff.Range()
	out.ReplyPause = c.Loop.ReplyPause.Range()
	out.SilencePause = c.Loop.SilencePause.Range()
	out.RecoveryPause = time.Duration(c.Loop.RecoverySeconds) * time.Second
	return out
}

// ReplyBudget returns a limiter allowing MaxRepliesPerHour cycles per hour
// with a burst of one, or nil when unlimited.
func (c *Config) ReplyBudget() *rate.Limiter {
	if c.Loop.MaxRepliesPerHour <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Hour/time.Duration(c.Loop.MaxRepliesPerHour)), 1)
}
