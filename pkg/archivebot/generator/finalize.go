package generator

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

// ErrorMarker prefixes generator output that reports a failure.
const ErrorMarker = "❌"

// DefaultSilenceToken is what the model answers to stay silent.
const DefaultSilenceToken = "[SILENCE]"

var (
	starEmote    = regexp.MustCompile(`\*[^*]+\*`)
	underEmote   = regexp.MustCompile(`(^|\s)_[^_\s][^_]*_([^\pL\pN_]|$)`)
	bracketAside = regexp.MustCompile(`\[[^\]]+\]`)
	spaces       = regexp.MustCompile(`\s+`)
	commas       = regexp.MustCompile(`\s*,\s*,+`)
	ellipsis     = regexp.MustCompile(`\.{3,}`)
	dots         = regexp.MustCompile(`\s*\.\s*\.+`)
)

const sentenceEnds = ".!?…"

// Finalize cleans model output into a finished message: stage directions
// removed, whitespace and repeated punctuation collapsed, and the text cut
// after its last complete sentence. It may return "".
func Finalize(text string) string {
	text = starEmote.ReplaceAllString(text, "")
	text = underEmote.ReplaceAllString(text, "${1}${2}")
	text = bracketAside.ReplaceAllString(text, "")
	text = strings.TrimSpace(spaces.ReplaceAllString(text, " "))
	text = commas.ReplaceAllString(text, ",")
	text = ellipsis.ReplaceAllString(text, "…")
	text = dots.ReplaceAllString(text, ".")
	if text == "" {
		return ""
	}

	if i := strings.LastIndexAny(text, sentenceEnds); i >= 0 {
		_, size := utf8.DecodeRuneInString(text[i:])
		text = strings.TrimSpace(text[:i+size])
	} else {
		text = strings.TrimRight(text, " ") + "."
	}

	for text != "" {
		r, size := utf8.DecodeLastRuneInString(text)
		if !strings.ContainsRune(`"'«»“”„([{`, r) {
			break
		}
		text = strings.TrimRight(text[:len(text)-size], " ")
	}
	return text
}

// Classify maps raw generator text onto the three-way decision. Empty text
// or the error marker means Failure. The silence token anywhere in the text
// means Silence. Anything else is a Reply of the finalized text.
func Classify(raw, silenceToken string) chat.Decision {
	text := strings.TrimSpace(raw)
	if silenceToken == "" {
		silenceToken = DefaultSilenceToken
	}

	switch {
	case text == "":
		return chat.Failure("empty output")
	case strings.HasPrefix(text, ErrorMarker):
		reason := strings.TrimSpace(strings.TrimPrefix(text, ErrorMarker))
		if reason == "" {
			reason = "generator reported an error"
		}
		return chat.Failure(reason)
	case isSilence(text, silenceToken):
		return chat.Silence()
	}

	reply := Finalize(text)
	if reply == "" {
		return chat.Failure("nothing left after cleanup")
	}
	return chat.Reply(reply)
}

func isSilence(text, token string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(token))
}
