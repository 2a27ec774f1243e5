// Package notify posts loop events to a Discord channel through a webhook.
// Delivery is asynchronous and best effort: a slow or failing webhook never
// holds up the loop.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/jholhewres/archivebot/pkg/archivebot/triage"
)

// Event names accepted by NewDiscord.
const (
	EventReplied  = "replied"
	EventFailed   = "failed"
	EventRecovery = "recovery"
	EventStopped  = "stopped"
)

const (
	queueSize   = 32
	sendTimeout = 10 * time.Second
	username    = "archivebot"
)

// Discord implements triage.Observer by posting selected events to a
// webhook.
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
	events  map[string]bool
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	queue  chan string
	done   chan struct{}

	// Run totals, touched only from the loop goroutine.
	started    time.Time
	replied    int
	failed     int
	recoveries int
}

// ParseWebhookURL extracts the webhook id and token from a URL such as
// https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing webhook URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) {
			id, token = parts[i+1], parts[i+2]
			break
		}
	}
	if id == "" || token == "" {
		return "", "", errors.New("webhook URL must look like https://discord.com/api/webhooks/<id>/<token>")
	}
	return id, token, nil
}

// NewDiscord starts a notifier for webhookURL. events selects which events
// are posted; unknown names are an error.
func NewDiscord(webhookURL string, events []string, logger *slog.Logger) (*Discord, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool, len(events))
	for _, ev := range events {
		switch ev {
		case EventReplied, EventFailed, EventRecovery, EventStopped:
			selected[ev] = true
		default:
			return nil, fmt.Errorf("unknown notification event %q", ev)
		}
	}

	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating discord client: %w", err)
	}
	session.MaxRestRetries = 1

	if logger == nil {
		logger = slog.Default()
	}
	d := &Discord{
		session: session,
		id:      id,
		token:   token,
		events:  selected,
		logger:  logger.With("component", "notify"),
		now:     time.Now,
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}
	d.started = d.now()
	go d.deliver()
	return d, nil
}

func (d *Discord) deliver() {
	defer close(d.done)
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		_, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
			Content:         msg,
			Username:        username,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		cancel()
		if err != nil {
			d.logger.Warn("webhook delivery failed", "error", err)
		}
	}
}

// post queues msg if event is selected. A full queue drops the message.
func (d *Discord) post(event, msg string) {
	if !d.events[event] {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.logger.Warn("notification queue full, dropping message", "event", event)
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end.
func (d *Discord) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Discord) OnTransition(from, to triage.State) {}

func (d *Discord) OnScan(found int) {}

func (d *Discord) OnCycle(_ context.Context, r triage.CycleReport) {
	switch {
	case r.Outcome.Kind == triage.OutcomeReplied:
		d.replied++
		d.post(EventReplied, fmt.Sprintf("Replied in **%s** (%d unread, %s).",
			r.Candidate.Name, r.Candidate.UnreadCount, r.Duration.Round(time.Second)))
	case r.Outcome.Kind == triage.OutcomeFailed:
		d.failed++
		d.post(EventFailed, fmt.Sprintf("Could not reply in **%s**: %s.", r.Candidate.Name, r.Outcome.Reason))
	case r.Outcome.Reason == triage.ReasonGenerationFailed:
		d.failed++
		detail := r.Outcome.Detail
		if detail == "" {
			detail = r.Outcome.Reason
		}
		d.post(EventFailed, fmt.Sprintf("Generator failed for **%s**: %s.", r.Candidate.Name, detail))
	}
}

func (d *Discord) OnRecovery(err error) {
	d.recoveries++
	d.post(EventRecovery, fmt.Sprintf("Recovering from a fault: %v", err))
}

func (d *Discord) OnStop(final triage.State) {
	d.post(EventStopped, fmt.Sprintf("Stopped (%s). Started %s: %s, %s, %s.",
		final,
		humanize.RelTime(d.started, d.now(), "ago", "from now"),
		plural(d.replied, "reply", "replies"),
		plural(d.failed, "failure", "failures"),
		plural(d.recoveries, "recovery", "recoveries"),
	))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return humanize.Comma(int64(n)) + " " + many
}

var _ triage.Observer = (*Discord)(nil)
