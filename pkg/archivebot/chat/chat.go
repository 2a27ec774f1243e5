// Package chat holds the conversation-level domain types shared by the
// triage loop, the site adapters and the response generator.
package chat

import "strings"

// Candidate is an archived conversation that shows an unread badge.
// Candidates are produced fresh by every scan and never persisted.
type Candidate struct {
	// Name identifies the conversation. Unique within a scan.
	Name string `json:"name"`

	// UnreadCount is the number of unread messages (at least 1).
	UnreadCount int `json:"unread_count"`

	// Muted reports whether the conversation is muted in the client.
	Muted bool `json:"muted"`

	// PeerID is the client's peer identifier, when the adapter exposes one.
	PeerID string `json:"peer_id,omitempty"`
}

// Role is the sender of a message relative to the account running the bot.
type Role string

const (
	// RoleSelf marks messages sent by the account itself.
	RoleSelf Role = "self"

	// RoleOther marks messages sent by the other party.
	RoleOther Role = "other"
)

// Message is one visible entry of a conversation history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`

	// Position is the ordinal of the message in the visible history.
	Position int `json:"position"`
}

// Incoming reports whether the message was sent by the other party.
func (m Message) Incoming() bool {
	return m.Role == RoleOther
}

// History is a sequence of messages ordered oldest to newest.
type History []Message

// Tail returns the last n messages. n <= 0 returns the whole history.
func (h History) Tail(n int) History {
	if n <= 0 || len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// Last returns the most recent message and false when the history is empty.
func (h History) Last() (Message, bool) {
	if len(h) == 0 {
		return Message{}, false
	}
	return h[len(h)-1], true
}

// Incoming returns only the messages sent by the other party.
func (h History) Incoming() History {
	var out History
	for _, m := range h {
		if m.Incoming() {
			out = append(out, m)
		}
	}
	return out
}

// TrailingIncoming returns the incoming messages that follow the last
// outgoing one, capped to the most recent max (max <= 0 means no cap).
func (h History) TrailingIncoming(max int) History {
	start := len(h)
	for start > 0 && h[start-1].Incoming() {
		start--
	}
	out := h[start:]
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// Renumber sets Position to the index of each message.
func (h History) Renumber() History {
	for i := range h {
		h[i].Position = i
	}
	return h
}

// DecisionKind is the three-way outcome of a generation request.
type DecisionKind int

const (
	// DecisionReply carries text to send.
	DecisionReply DecisionKind = iota
	// DecisionSilence means the exchange is concluded and nothing is sent.
	DecisionSilence
	// DecisionFailure means the generator could not produce a usable reply.
	DecisionFailure
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionReply:
		return "reply"
	case DecisionSilence:
		return "silence"
	case DecisionFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Decision is the generator output, consumed exactly once per reply cycle.
type Decision struct {
	Kind   DecisionKind
	Text   string
	Reason string
}

// Reply builds a decision carrying text to send. Blank text is a failure.
func Reply(text string) Decision {
	text = strings.TrimSpace(text)
	if text == "" {
		return Failure("empty reply")
	}
	return Decision{Kind: DecisionReply, Text: text}
}

// Silence builds a decision to stay silent.
func Silence() Decision {
	return Decision{Kind: DecisionSilence}
}

// Failure builds a failed decision with a human-readable reason.
func Failure(reason string) Decision {
	return Decision{Kind: DecisionFailure, Reason: reason}
}
