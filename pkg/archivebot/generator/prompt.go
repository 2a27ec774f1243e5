package generator

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DefaultPrompt is the system prompt used when none is configured.
const DefaultPrompt = `You are {{.Name}}, a friendly person chatting in a messenger.
Talk casually and naturally, as a human would.

Style:
- Keep replies short, two sentences at most.
- Ask a follow-up question when it fits the conversation.
- No emoji, no stage directions, no roleplay markers.

Context:
- It is about {{.Time}} ({{.Weekday}}{{if .Weekend}}, weekend{{end}}), {{.DayPart}}.
- It is {{.Season}}.

Never mention that you are an AI or a language model.
If the conversation has clearly ended and nothing needs an answer, reply with
exactly {{.SilenceToken}} and nothing else.`

// PromptData is the data available to the system prompt template.
type PromptData struct {
	Name         string
	Time         string
	Weekday      string
	Weekend      bool
	DayPart      string
	Season       string
	SilenceToken string
}

// Prompt renders the system prompt for a moment in time.
type Prompt struct {
	tmpl         *template.Template
	name         string
	silenceToken string
	loc          *time.Location
}

// NewPrompt parses text as a text/template. Empty text uses DefaultPrompt.
func NewPrompt(text, name, silenceToken string, loc *time.Location) (*Prompt, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultPrompt
	}
	tmpl, err := template.New("system").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Prompt{tmpl: tmpl, name: name, silenceToken: silenceToken, loc: loc}, nil
}

// Data builds the template data for now.
func (p *Prompt) Data(now time.Time) PromptData {
	now = now.In(p.loc)
	weekday := now.Weekday()
	return PromptData{
		Name:         p.name,
		Time:         now.Format("02.01.2006 15:04"),
		Weekday:      weekday.String(),
		Weekend:      weekday == time.Saturday || weekday == time.Sunday,
		DayPart:      dayPart(now.Hour()),
		Season:       season(now.Month()),
		SilenceToken: p.silenceToken,
	}
}

// Render executes the template for now.
func (p *Prompt) Render(now time.Time) (string, error) {
	var b strings.Builder
	if err := p.tmpl.Execute(&b, p.Data(now)); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return b.String(), nil
}

func dayPart(hour int) string {
	switch {
	case hour < 7 || hour >= 23:
		return "late night"
	case hour < 10:
		return "morning"
	case hour < 14:
		return "midday"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}

func season(m time.Month) string {
	return [...]string{"winter", "spring", "summer", "autumn"}[(int(m)%12)/3]
}
