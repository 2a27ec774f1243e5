package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

// Config configures the scheduler loop.
type Config struct {
	// URL is the web client address.
	URL string

	// Auth configures the one-shot authentication gate.
	Auth AuthConfig

	// HistoryWindow bounds the messages read as context (default: 30).
	HistoryWindow int

	// IgnoreMuted drops muted conversations from every scan.
	IgnoreMuted bool

	// IdleBackoff is the wait after an empty scan (default: 10-30s).
	IdleBackoff Range

	// ReplyPause is the pacing delay after a cycle (default: 3-15s).
	ReplyPause Range

	// SilencePause is the pacing delay after the generator chose silence
	// (default: 3-10s).
	SilencePause Range

	// RecoveryPause is the fixed wait of error recovery (default: 30s).
	RecoveryPause time.Duration
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		URL: "https://web.telegram.org/k",
		Auth: AuthConfig{
			Timeout:      300 * time.Second,
			PollInterval: 2 * time.Second,
			StatusEvery:  10 * time.Second,
		},
		HistoryWindow: DefaultHistoryWindow,
		IdleBackoff:   Seconds(10, 30),
		ReplyPause:    Seconds(3, 15),
		SilencePause:  Seconds(3, 10),
		RecoveryPause: 30 * time.Second,
	}
}

// Validate checks ranges and required fields.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.HistoryWindow < 1 {
		return fmt.Errorf("history window must be at least 1, got %d", c.HistoryWindow)
	}
	for name, r := range map[string]Range{
		"idle backoff":  c.IdleBackoff,
		"reply pause":   c.ReplyPause,
		"silence pause": c.SilencePause,
	} {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.RecoveryPause < 0 {
		return fmt.Errorf("recovery pause must not be negative, got %s", c.RecoveryPause)
	}
	return nil
}

// Deps are the collaborators driven by the loop. Session, Site, Probe,
// Prompter and Generator are required.
type Deps struct {
	Session   Session
	Site      Site
	Probe     AuthProbe
	Prompter  Prompter
	Generator Generator

	// Clock defaults to the wall clock.
	Clock Clock

	// Pacer defaults to a RandomPacer.
	Pacer Pacer

	// Gate, when set, restricts scanning to active hours.
	Gate ActivityGate

	// Budget, when set, limits how many cycles start per time window.
	Budget *rate.Limiter

	// Observer receives loop events.
	Observer Observer

	Logger *slog.Logger
}

// SchedulerLoop owns the triage state machine. It drives the scanner and
// the reply cycle on a single goroutine until its context is cancelled or
// start-up fails.
//
// Candidate selection is deliberately "first element of the scanner
// output": a scan yields at most one cycle, after which the archive is
// scanned again.
type SchedulerLoop struct {
	cfg     Config
	deps    Deps
	auth    *AuthGate
	scanner *ArchiveScanner
	cycle   *ReplyCycle
	logger  *slog.Logger
	runID   string

	state         State
	archiveOpened bool
	candidate     chat.Candidate
	fault         error
	idleWait      time.Duration
}

// NewSchedulerLoop wires the loop components.
func NewSchedulerLoop(cfg Config, deps Deps) (*SchedulerLoop, error) {
	if deps.Session == nil || deps.Site == nil || deps.Probe == nil ||
		deps.Prompter == nil || deps.Generator == nil {
		return nil, errors.New("session, site, probe, prompter and generator are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loop config: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Pacer == nil {
		deps.Pacer = NewRandomPacer()
	}
	if deps.Observer == nil {
		deps.Observer = Observers(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Auth.URL == "" {
		cfg.Auth.URL = cfg.URL
	}

	return &SchedulerLoop{
		cfg:     cfg,
		deps:    deps,
		auth:    NewAuthGate(cfg.Auth, deps.Session, deps.Probe, deps.Prompter, deps.Clock, deps.Logger),
		scanner: NewArchiveScanner(deps.Site, cfg.IgnoreMuted, deps.Logger),
		cycle:   NewReplyCycle(deps.Site, deps.Generator, cfg.HistoryWindow, deps.Logger),
		logger:  deps.Logger.With("component", "loop"),
		runID:   uuid.NewString(),
		state:   StateInit,
	}, nil
}

// RunID identifies this run in reports.
func (l *SchedulerLoop) RunID() string { return l.runID }

// State returns the current state. Not safe to call concurrently with Run.
func (l *SchedulerLoop) State() State { return l.state }

// Run drives the loop to StateStopped. The returned error is non-nil only
// when start-up fails (ErrNotAuthenticated, ErrArchiveUnavailable); a stop
// through ctx returns nil. The session is always closed before returning.
func (l *SchedulerLoop) Run(ctx context.Context) (State, error) {
	if l.state != StateInit {
		return l.state, fmt.Errorf("%w: loop already ran", ErrInvalidTransition)
	}

	var fatal error
	defer l.teardown()

	l.logger.Info("starting triage loop", "run_id", l.runID, "url", l.cfg.URL)
	l.fire(EventStart)

	for !l.state.Terminal() {
		if ctx.Err() != nil {
			l.logger.Info("stop requested", "state", l.state)
			l.fire(EventStop)
			break
		}

		var ev Event
		switch l.state {
		case StateAuthenticating:
			ev, fatal = l.authenticate(ctx)
		case StateArchiveOpening:
			ev, fatal = l.openArchive(ctx)
		case StateScanning:
			ev = l.scan(ctx)
		case StateIdleBackoff:
			ev = l.backoff(ctx)
		case StateCycleRunning:
			ev = l.runCycle(ctx)
		case StateErrorRecovery:
			ev = l.recoverFault(ctx)
		default:
			l.logger.Error("unexpected state", "state", l.state)
			ev = EventStop
		}
		l.fire(ev)
	}

	return l.state, fatal
}

func (l *SchedulerLoop) fire(ev Event) {
	from := l.state
	next, err := Transition(from, ev)
	if err != nil {
		l.logger.Error("state machine rejected event", "state", from, "event", ev, "error", err)
		next = StateStopped
	}
	l.state = next
	l.logger.Debug("state changed", "from", from, "to", next, "event", ev)
	l.deps.Observer.OnTransition(from, next)
}

func (l *SchedulerLoop) authenticate(ctx context.Context) (Event, error) {
	if l.auth.Await(ctx, l.cfg.Auth.Timeout) {
		return EventAuthOK, nil
	}
	if ctx.Err() != nil {
		return EventStop, nil
	}
	l.logger.Error("authentication failed, shutting down")
	return EventAuthFailed, ErrNotAuthenticated
}

// openArchive runs once per run; recovery never returns here.
func (l *SchedulerLoop) openArchive(ctx context.Context) (Event, error) {
	if l.archiveOpened {
		return EventArchiveOpened, nil
	}
	l.archiveOpened = true

	l.logger.Info("opening archive folder")
	if err := l.deps.Session.Navigate(ctx, l.cfg.URL); err != nil {
		if ctx.Err() != nil {
			return EventStop, nil
		}
		l.logger.Error("navigation failed", "url", l.cfg.URL, "error", err)
		return EventArchiveFailed, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}

	var opened bool
	err := guard(func() (err error) {
		opened, err = l.deps.Site.OpenArchiveFolder(context.WithoutCancel(ctx))
		return err
	})
	if err != nil {
		l.logger.Error("open archive failed", "error", err)
		return EventArchiveFailed, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if !opened {
		l.logger.Error("archive folder not found")
		return EventArchiveFailed, ErrArchiveUnavailable
	}
	l.logger.Info("archive folder opened")
	return EventArchiveOpened, nil
}

func (l *SchedulerLoop) scan(ctx context.Context) Event {
	now := l.deps.Clock.Now()
	if l.deps.Gate != nil && !l.deps.Gate.Active(now) {
		l.logger.Info("outside active hours, skipping scan")
		return EventDefer
	}

	l.logger.Info("scanning archive for unread chats")
	var candidates []chat.Candidate
	err := guard(func() (err error) {
		candidates, err = l.scanner.ListUnread(context.WithoutCancel(ctx))
		return err
	})
	if err != nil {
		l.fault = fmt.Errorf("scan: %w", err)
		return EventFault
	}
	l.deps.Observer.OnScan(len(candidates))

	if len(candidates) == 0 {
		l.logger.Info("no unread chats")
		return EventScanEmpty
	}

	if l.deps.Budget != nil {
		r := l.deps.Budget.ReserveN(now, 1)
		if !r.OK() {
			l.logger.Warn("reply budget cannot admit a cycle")
			return EventDefer
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			l.idleWait = min(delay, l.cfg.IdleBackoff.Max)
			l.logger.Info("reply budget exhausted, deferring", "retry_in", delay)
			return EventDefer
		}
	}

	l.candidate = candidates[0]
	l.logger.Info("unread chats found", "count", len(candidates), "next", l.candidate.Name)
	return EventScanFound
}

func (l *SchedulerLoop) backoff(ctx context.Context) Event {
	wait := l.idleWait
	l.idleWait = 0
	if wait <= 0 {
		wait = l.deps.Pacer.Between(l.cfg.IdleBackoff)
	}
	l.logger.Info("idle", "wait", wait)
	if err := l.deps.Clock.Sleep(ctx, wait); err != nil {
		return EventStop
	}
	return EventBackoffDone
}

func (l *SchedulerLoop) runCycle(ctx context.Context) Event {
	cand := l.candidate
	l.candidate = chat.Candidate{}
	started := l.deps.Clock.Now()

	var outcome Outcome
	err := guard(func() (err error) {
		outcome, err = l.cycle.Run(context.WithoutCancel(ctx), cand)
		return err
	})
	if err != nil {
		l.fault = err
		return EventFault
	}

	l.deps.Observer.OnCycle(ctx, CycleReport{
		RunID:     l.runID,
		CycleID:   uuid.NewString(),
		Candidate: cand,
		Outcome:   outcome,
		StartedAt: started,
		Duration:  l.deps.Clock.Now().Sub(started),
	})

	pause := l.cfg.ReplyPause
	if outcome.Reason == ReasonGeneratorSilence {
		pause = l.cfg.SilencePause
	}
	wait := l.deps.Pacer.Between(pause)
	l.logger.Info("pausing before next scan", "wait", wait)
	if err := l.deps.Clock.Sleep(ctx, wait); err != nil {
		return EventStop
	}
	return EventCycleDone
}

func (l *SchedulerLoop) recoverFault(ctx context.Context) Event {
	fault := l.fault
	l.fault = nil
	if fault == nil {
		fault = errors.New("unknown fault")
	}

	l.logger.Error("loop fault, recovering", "error", fault, "pause", l.cfg.RecoveryPause)
	l.deps.Observer.OnRecovery(fault)

	err := guard(func() error {
		return l.deps.Site.ExitCurrentChat(context.WithoutCancel(ctx))
	})
	if err != nil {
		l.logger.Warn("exit chat during recovery failed", "error", err)
	}

	if err := l.deps.Clock.Sleep(ctx, l.cfg.RecoveryPause); err != nil {
		return EventStop
	}
	return EventRecovered
}

func (l *SchedulerLoop) teardown() {
	if err := l.deps.Session.Close(); err != nil {
		l.logger.Warn("closing browser session", "error", err)
	}
	l.logger.Info("triage loop stopped", "run_id", l.runID, "state", l.state)
	l.deps.Observer.OnStop(l.state)
}

// guard turns a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
