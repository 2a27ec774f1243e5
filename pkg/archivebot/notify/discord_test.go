package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
	"github.com/jholhewres/archivebot/pkg/archivebot/triage"
)

type webhookBody struct {
	Content         string `json:"content"`
	Username        string `json:"username"`
	AllowedMentions *struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

type fakeWebhook struct {
	mu     sync.Mutex
	paths  []string
	bodies []webhookBody
	status int
}

func (f *fakeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.bodies = append(f.bodies, body)
	status := f.status
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (f *fakeWebhook) received() []webhookBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webhookBody(nil), f.bodies...)
}

// startWebhook points discordgo's webhook endpoint at a local server.
func startWebhook(t *testing.T, f *fakeWebhook) {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	orig := discordgo.EndpointWebhookToken
	discordgo.EndpointWebhookToken = func(id, token string) string {
		return srv.URL + "/webhooks/" + id + "/" + token
	}
	t.Cleanup(func() { discordgo.EndpointWebhookToken = orig })
}

func newTestDiscord(t *testing.T, events ...string) *Discord {
	t.Helper()
	d, err := NewDiscord("https://discord.com/api/webhooks/123/secret-token", events,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewDiscord() error = %v", err)
	}
	return d
}

func closeDiscord(t *testing.T, d *Discord) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		raw       string
		id, token string
		ok        bool
	}{
		{"https://discord.com/api/webhooks/123/abc", "123", "abc", true},
		{"https://discord.com/api/v10/webhooks/9/t-k/", "9", "t-k", true},
		{"https://discord.com/api/webhooks/123", "", "", false},
		{"https://example.com/hooks/1/2", "", "", false},
		{"::not a url", "", "", false},
	}
	for _, tt := range tests {
		id, token, err := ParseWebhookURL(tt.raw)
		if (err == nil) != tt.ok || id != tt.id || token != tt.token {
			t.Errorf("ParseWebhookURL(%q) = %q, %q, %v", tt.raw, id, token, err)
		}
	}
}

func TestNewDiscord_UnknownEvent(t *testing.T) {
	if _, err := NewDiscord("https://discord.com/api/webhooks/1/2", []string{"exploded"}, nil); err == nil {
		t.Error("expected error")
	}
}

func TestDiscord_PostsSelectedEvents(t *testing.T) {
	hook := &fakeWebhook{}
	startWebhook(t, hook)
	d := newTestDiscord(t, EventReplied, EventStopped)

	alice := chat.Candidate{Name: "Alice", UnreadCount: 2}
	d.OnCycle(context.Background(), triage.CycleReport{
		Candidate: alice,
		Outcome:   triage.Outcome{Kind: triage.OutcomeReplied, Reply: "hi"},
		Duration:  3 * time.Second,
	})
	d.OnCycle(context.Background(), triage.CycleReport{
		Candidate: alice,
		Outcome:   triage.Outcome{Kind: triage.OutcomeSkipped, Reason: triage.ReasonGeneratorSilence},
	})
	d.OnRecovery(errors.New("selector timeout"))
	d.OnStop(triage.StateStopped)
	closeDiscord(t, d)

	got := hook.received()
	if len(got) != 2 {
		t.Fatalf("posted %d messages, want 2: %+v", len(got), got)
	}
	if !strings.Contains(got[0].Content, "Alice") || !strings.Contains(got[0].Content, "2 unread") {
		t.Errorf("reply message = %q", got[0].Content)
	}
	if !strings.Contains(got[1].Content, "1 reply") || !strings.Contains(got[1].Content, "1 recovery") {
		t.Errorf("stop message = %q", got[1].Content)
	}
	if got[0].Username != "archivebot" {
		t.Errorf("username = %q", got[0].Username)
	}
	if got[0].AllowedMentions == nil || len(got[0].AllowedMentions.Parse) != 0 {
		t.Errorf("mentions must be disabled: %+v", got[0].AllowedMentions)
	}

	hook.mu.Lock()
	path := hook.paths[0]
	hook.mu.Unlock()
	if path != "/webhooks/123/secret-token" {
		t.Errorf("path = %q", path)
	}
}

func TestDiscord_FailureEvents(t *testing.T) {
	hook := &fakeWebhook{}
	startWebhook(t, hook)
	d := newTestDiscord(t, EventFailed)

	d.OnCycle(context.Background(), triage.CycleReport{
		Candidate: chat.Candidate{Name: "Bob"},
		Outcome:   triage.Outcome{Kind: triage.OutcomeFailed, Reason: triage.ReasonSendFailed},
	})
	d.OnCycle(context.Background(), triage.CycleReport{
		Candidate: chat.Candidate{Name: "Carol"},
		Outcome:   triage.Outcome{Kind: triage.OutcomeSkipped, Reason: triage.ReasonGenerationFailed, Detail: "model not loaded"},
	})
	closeDiscord(t, d)

	got := hook.received()
	if len(got) != 2 {
		t.Fatalf("posted %d messages, want 2", len(got))
	}
	if !strings.Contains(got[0].Content, "send-failed") || !strings.Contains(got[1].Content, "model not loaded") {
		t.Errorf("messages = %q, %q", got[0].Content, got[1].Content)
	}
}

func TestDiscord_WebhookErrorIsSwallowed(t *testing.T) {
	hook := &fakeWebhook{status: http.StatusBadRequest}
	startWebhook(t, hook)
	d := newTestDiscord(t, EventRecovery)

	d.OnRecovery(errors.New("boom"))
	closeDiscord(t, d)

	if len(hook.received()) != 1 {
		t.Error("expected one delivery attempt")
	}
}

func TestDiscord_PostAfterClose(t *testing.T) {
	hook := &fakeWebhook{}
	startWebhook(t, hook)
	d := newTestDiscord(t, EventStopped)
	closeDiscord(t, d)

	d.OnStop(triage.StateStopped)
	closeDiscord(t, d)
	if n := len(hook.received()); n != 0 {
		t.Errorf("posted %d messages after close", n)
	}
}
