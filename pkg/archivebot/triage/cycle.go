package triage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

// OutcomeKind classifies how a reply cycle ended.
type OutcomeKind int

const (
	OutcomeReplied OutcomeKind = iota
	OutcomeSkipped
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReplied:
		return "replied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Skip and failure reasons.
const (
	ReasonOpenFailed       = "open-failed"
	ReasonNoHistory        = "no-history"
	ReasonNoUnreadIncoming = "no-unread-incoming"
	ReasonGeneratorSilence = "generator-silence"
	ReasonGenerationFailed = "generation-failed"
	ReasonSendFailed       = "send-failed"
)

// Outcome is the result of one visit to a conversation.
type Outcome struct {
	Kind   OutcomeKind
	Reason string

	// Detail carries the generator's failure reason, if any.
	Detail string

	// Reply is the text handed to the adapter for sending.
	Reply string
}

func skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

// StepError is a fault raised by an adapter call during a cycle.
type StepError struct {
	Chat string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("chat %q: %s: %v", e.Chat, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// DefaultHistoryWindow is the number of recent messages read as context.
const DefaultHistoryWindow = 30

// ReplyCycle handles one conversation end to end: open, read, decide,
// reply, close. No step is retried; transient failures are absorbed by the
// next scan.
type ReplyCycle struct {
	site      Site
	generator Generator
	window    int
	logger    *slog.Logger
}

// NewReplyCycle creates a cycle reading up to window messages of context.
func NewReplyCycle(site Site, generator Generator, window int, logger *slog.Logger) *ReplyCycle {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyCycle{
		site:      site,
		generator: generator,
		window:    window,
		logger:    logger.With("component", "cycle"),
	}
}

// Run visits the candidate. Every returned Outcome leaves the conversation
// closed. A non-nil error means an adapter call failed unexpectedly; the
// conversation is then left to the caller's recovery, which closes it.
func (c *ReplyCycle) Run(ctx context.Context, cand chat.Candidate) (Outcome, error) {
	logger := c.logger.With("chat", cand.Name)
	logger.Info("processing chat", "unread", cand.UnreadCount)

	outcome, err := c.visit(ctx, cand, logger)
	if err != nil {
		return Outcome{}, err
	}

	if err := c.site.ExitCurrentChat(ctx); err != nil {
		logger.Warn("exit chat failed", "error", err)
	}
	logger.Info("chat processed", "outcome", outcome.Kind, "reason", outcome.Reason)
	return outcome, nil
}

func (c *ReplyCycle) visit(ctx context.Context, cand chat.Candidate, logger *slog.Logger) (Outcome, error) {
	opened, err := c.site.SelectChat(ctx, cand.Name)
	if err != nil {
		return Outcome{}, &StepError{Chat: cand.Name, Step: "select", Err: err}
	}
	if !opened {
		logger.Error("could not open chat")
		return skipped(ReasonOpenFailed), nil
	}

	history, err := c.site.RecentMessages(ctx, c.window)
	if err != nil {
		return Outcome{}, &StepError{Chat: cand.Name, Step: "read history", Err: err}
	}
	history = history.Tail(c.window)
	if len(history) == 0 {
		logger.Warn("no message history loaded")
		return skipped(ReasonNoHistory), nil
	}
	logger.Debug("history loaded", "messages", len(history))

	unread, err := c.site.UnreadIncoming(ctx)
	if err != nil {
		return Outcome{}, &StepError{Chat: cand.Name, Step: "read unread", Err: err}
	}
	if len(unread) == 0 {
		logger.Info("no unread incoming messages")
		return skipped(ReasonNoUnreadIncoming), nil
	}

	last, _ := history.Last()
	decision := c.generator.Generate(ctx, history, last.Text)
	switch decision.Kind {
	case chat.DecisionSilence:
		logger.Info("generator chose not to reply")
		return skipped(ReasonGeneratorSilence), nil
	case chat.DecisionFailure:
		logger.Warn("generation failed", "reason", decision.Reason)
		out := skipped(ReasonGenerationFailed)
		out.Detail = decision.Reason
		return out, nil
	}

	logger.Info("sending reply", "length", len([]rune(decision.Text)))
	sent, err := c.site.SendMessage(ctx, decision.Text)
	if err != nil {
		return Outcome{}, &StepError{Chat: cand.Name, Step: "send", Err: err}
	}
	if !sent {
		logger.Warn("reply not sent")
		return Outcome{Kind: OutcomeFailed, Reason: ReasonSendFailed, Reply: decision.Text}, nil
	}
	return Outcome{Kind: OutcomeReplied, Reply: decision.Text}, nil
}
