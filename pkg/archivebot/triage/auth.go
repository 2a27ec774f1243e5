package triage

import (
	"context"
	"log/slog"
	"time"
)

// AuthConfig configures the authentication gate.
type AuthConfig struct {
	// URL is the page the session is sent to before probing.
	URL string

	// Timeout bounds the wait for an authenticated indicator (default: 300s).
	Timeout time.Duration

	// PollInterval is the delay between probes (default: 2s).
	PollInterval time.Duration

	// StatusEvery is how often a waiting status line is logged (default: 10s).
	StatusEvery time.Duration
}

// AuthQuestion is the confirmation asked once an indicator is observed.
const AuthQuestion = "Authorized? (y/n)"

// AuthGate blocks the loop until the operator confirms the session is
// authenticated. It runs once per process, before the reply phase.
type AuthGate struct {
	cfg      AuthConfig
	session  Session
	probe    AuthProbe
	prompter Prompter
	clock    Clock
	logger   *slog.Logger
}

// NewAuthGate creates a gate. A nil clock uses the wall clock.
func NewAuthGate(cfg AuthConfig, session Session, probe AuthProbe, prompter Prompter, clock Clock, logger *slog.Logger) *AuthGate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 10 * time.Second
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthGate{
		cfg:      cfg,
		session:  session,
		probe:    probe,
		prompter: prompter,
		clock:    clock,
		logger:   logger.With("component", "auth"),
	}
}

// Await navigates to the site and waits up to timeout for an authenticated
// indicator, then asks the operator to confirm. It returns true only on an
// explicit affirmative answer. A timeout returns false without prompting.
func (g *AuthGate) Await(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}

	g.logger.Info("checking authentication", "url", g.cfg.URL)
	if err := g.session.Navigate(ctx, g.cfg.URL); err != nil {
		g.logger.Error("navigation failed", "url", g.cfg.URL, "error", err)
		return false
	}

	found := g.observe(ctx)
	if !found {
		g.logger.Info("not authenticated yet, complete the login in the browser window",
			"timeout", timeout)
	}

	// Elapsed time includes the probes, which can stall on a hung page.
	start := g.clock.Now()
	var waited, lastStatus time.Duration
	for !found && waited < timeout {
		if err := g.clock.Sleep(ctx, g.cfg.PollInterval); err != nil {
			g.logger.Warn("authentication wait interrupted", "waited", waited)
			return false
		}

		found = g.observe(ctx)
		waited = g.clock.Now().Sub(start)
		if found {
			break
		}
		if waited-lastStatus >= g.cfg.StatusEvery {
			g.logger.Info("waiting for authentication", "waited", waited, "timeout", timeout)
			lastStatus = waited
		}
	}

	if !found {
		g.logger.Error("authentication not completed in time", "timeout", timeout)
		return false
	}

	g.logger.Info("authenticated session detected, waiting for operator confirmation")
	ok, err := g.prompter.Confirm(ctx, AuthQuestion)
	if err != nil {
		g.logger.Error("confirmation failed", "error", err)
		return false
	}
	if !ok {
		g.logger.Warn("operator did not confirm authentication")
		return false
	}
	g.logger.Info("operator confirmed authentication")
	return true
}

func (g *AuthGate) observe(ctx context.Context) bool {
	ok, err := g.probe.Authenticated(ctx)
	if err != nil {
		g.logger.Debug("authentication probe failed", "error", err)
		return false
	}
	return ok
}
