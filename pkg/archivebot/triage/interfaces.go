package triage

import (
	"context"
	"time"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

// Session is the browser session the loop drives.
type Session interface {
	// Navigate loads url in the session's page.
	Navigate(ctx context.Context, url string) error

	// Close tears the session down. Safe to call more than once.
	Close() error
}

// Site turns page interactions into conversation-level operations.
// A false/empty result is an expected outcome; a non-nil error is a fault
// handled by the loop's error recovery.
type Site interface {
	OpenArchiveFolder(ctx context.Context) (bool, error)
	ArchivedChatsWithUnread(ctx context.Context) ([]chat.Candidate, error)
	SelectChat(ctx context.Context, name string) (bool, error)
	// ExitCurrentChat is best effort.
	ExitCurrentChat(ctx context.Context) error
	RecentMessages(ctx context.Context, max int) (chat.History, error)
	UnreadIncoming(ctx context.Context) (chat.History, error)
	SendMessage(ctx context.Context, text string) (bool, error)
}

// AuthProbe reports whether any "authenticated" indicator is visible.
type AuthProbe interface {
	Authenticated(ctx context.Context) (bool, error)
}

// Generator decides whether and how to reply. Errors are folded into a
// failure decision by the implementation.
type Generator interface {
	Generate(ctx context.Context, history chat.History, last string) chat.Decision
}

// Prompter asks the operator a yes/no question and blocks until answered.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ActivityGate reports whether the loop may scan at t.
type ActivityGate interface {
	Active(t time.Time) bool
}

// CycleReport describes one completed reply cycle.
type CycleReport struct {
	RunID     string
	CycleID   string
	Candidate chat.Candidate
	Outcome   Outcome
	StartedAt time.Time
	Duration  time.Duration
}

// Observer receives loop events. Implementations must not block for long:
// they run on the loop goroutine.
type Observer interface {
	OnTransition(from, to State)
	OnScan(found int)
	OnCycle(ctx context.Context, report CycleReport)
	OnRecovery(err error)
	OnStop(final State)
}

// Observers fans events out to every non-nil observer.
type Observers []Observer

func (o Observers) OnTransition(from, to State) {
	for _, ob := range o {
		if ob != nil {
			ob.OnTransition(from, to)
		}
	}
}

func (o Observers) OnScan(found int) {
	for _, ob := range o {
		if ob != nil {
			ob.OnScan(found)
		}
	}
}

func (o Observers) OnCycle(ctx context.Context, report CycleReport) {
	for _, ob := range o {
		if ob != nil {
			ob.OnCycle(ctx, report)
		}
	}
}

func (o Observers) OnRecovery(err error) {
	for _, ob := range o {
		if ob != nil {
			ob.OnRecovery(err)
		}
	}
}

func (o Observers) OnStop(final State) {
	for _, ob := range o {
		if ob != nil {
			ob.OnStop(final)
		}
	}
}
