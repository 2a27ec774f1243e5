package generator

import (
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

func TestFinalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Hello there", "Hello there."},
		{"Sure! I was thinking about", "Sure!"},
		{"*laughs* ok then.", "ok then."},
		{"_sighs_ fine... whatever.", "fine… whatever."},
		{"_sighs_, fine.", ", fine."},
		{"see my_file_name here.", "see my_file_name here."},
		{"snake_case_names are fine", "snake_case_names are fine."},
		{"Wait..... what?", "Wait… what?"},
		{"Done.. ok . .", "Done. ok."},
		{"[thinking] Sounds good!", "Sounds good!"},
		{"Wait,, what?", "Wait, what?"},
		{"Really…  maybe", "Really…"},
		{"He said \"hi.\" and then (", "He said \"hi."},
		{"   lots   of   space  ", "lots of space."},
		{"*only an emote*", ""},
	}

	for _, tt := range tests {
		if got := Finalize(tt.in); got != tt.want {
			t.Errorf("Finalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind chat.DecisionKind
		text string
	}{
		{"reply", "Hi!", chat.DecisionReply, "Hi!"},
		{"silence", "[SILENCE]", chat.DecisionSilence, ""},
		{"silence padded", "  [silence].\n", chat.DecisionSilence, ""},
		{"silence after sign-off", "Okay, talk later. [SILENCE]", chat.DecisionSilence, ""},
		{"silence before text", "[SILENCE] nothing to add.", chat.DecisionSilence, ""},
		{"empty", "", chat.DecisionFailure, ""},
		{"blank", " \n ", chat.DecisionFailure, ""},
		{"error marker", "❌ model not loaded", chat.DecisionFailure, ""},
		{"cleaned to nothing", "*waves*", chat.DecisionFailure, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(tt.raw, DefaultSilenceToken)
			if d.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", d.Kind, tt.kind)
			}
			if d.Text != tt.text {
				t.Errorf("text = %q, want %q", d.Text, tt.text)
			}
			if d.Kind == chat.DecisionFailure && d.Reason == "" {
				t.Error("failure without reason")
			}
		})
	}
}

func TestClassify_CustomToken(t *testing.T) {
	if d := Classify("<pass>", "<pass>"); d.Kind != chat.DecisionSilence {
		t.Errorf("kind = %s", d.Kind)
	}
	if d := Classify("[SILENCE]", "<pass>"); d.Kind != chat.DecisionFailure {
		t.Errorf("default token should not match a custom one, got %s", d.Kind)
	}
}

func TestPromptData(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	p, err := NewPrompt("", "Ivan", DefaultSilenceToken, moscow)
	if err != nil {
		t.Fatal(err)
	}

	// 20:30 UTC on a Saturday is 23:30 in Moscow.
	d := p.Data(time.Date(2024, 1, 6, 20, 30, 0, 0, time.UTC))
	if d.Time != "06.01.2024 23:30" || d.Weekday != "Saturday" || !d.Weekend {
		t.Errorf("data = %+v", d)
	}
	if d.DayPart != "late night" || d.Season != "winter" {
		t.Errorf("day part %q season %q", d.DayPart, d.Season)
	}

	out, err := p.Render(time.Date(2024, 7, 3, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Ivan", "Wednesday", "midday", "summer", "[SILENCE]"} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q:\n%s", want, out)
		}
	}
}
