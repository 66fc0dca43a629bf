// Package correction extracts mistake records from the correction markup the
// tutor embeds in its replies, and renders stored mistakes back into the
// summary markup used by review prompts.
//
// The markup grammar is
//
//	[CorrectionStart]Incorrect: "..." | Correct: "..." | Type: "..." | Explanation: "..."[CorrectionEnd]
//
// Fields are pipe-delimited, may appear in any order and are keyed by label.
package correction

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/dex/internal/domain"
)

// Markup delimiters.
const (
	StartMarker = "[CorrectionStart]"
	EndMarker   = "[CorrectionEnd]"
)

const fieldSeparator = "|"

// span is one matched correction block within a text.
type span struct {
	start, end int // byte offsets of the block, markers included
	body       string
}

// Extract returns the complete mistakes found in raw, each tagged with
// sessionID, and raw with every correction block removed. Blocks missing the
// incorrect or correct field are dropped but still removed from the text.
func Extract(raw, sessionID string) ([]domain.Mistake, string) {
	mistakes := []domain.Mistake{}
	text := raw
	for {
		spans := scan(text)
		if len(spans) == 0 {
			break
		}
		for _, sp := range spans {
			m := parseBody(sp.body)
			if !m.Complete() {
				continue
			}
			m.SessionID = sessionID
			mistakes = append(mistakes, m)
		}
		text = strip(text, spans)
	}
	return mistakes, strings.TrimSpace(text)
}

// Clean removes every correction block from raw. Clean(Clean(s)) == Clean(s).
func Clean(raw string) string {
	_, cleaned := Extract(raw, "")
	return cleaned
}

// scan finds non-overlapping blocks left to right. Each block runs from a start
// marker to the nearest following end marker; a start marker with no end
// marker after it is not a block.
func scan(text string) []span {
	var spans []span
	pos := 0
	for pos < len(text) {
		i := strings.Index(text[pos:], StartMarker)
		if i < 0 {
			break
		}
		start := pos + i
		bodyStart := start + len(StartMarker)

		j := strings.Index(text[bodyStart:], EndMarker)
		if j < 0 {
			break
		}
		bodyEnd := bodyStart + j
		end := bodyEnd + len(EndMarker)

		spans = append(spans, span{start: start, end: end, body: text[bodyStart:bodyEnd]})
		pos = end
	}
	return spans
}

// strip removes spans from text. Whitespace following a removed block is
// dropped when the text before the block already ends in whitespace, so
// "a [block] b" becomes "a b" rather than "a  b".
func strip(text string, spans []span) string {
	var b strings.Builder
	b.Grow(len(text))

	pos := 0
	for _, sp := range spans {
		b.WriteString(text[pos:sp.start])
		pos = sp.end

		out := b.String()
		if out == "" || endsWithSpace(out) {
			for pos < len(text) {
				r, size := utf8.DecodeRuneInString(text[pos:])
				if !unicode.IsSpace(r) {
					break
				}
				pos += size
			}
		}
	}
	b.WriteString(text[pos:])
	return b.String()
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}

// parseBody reads the fields of one block. When the body itself contains a
// start marker, the outer marker was never closed and only the innermost block
// is parsed.
func parseBody(body string) domain.Mistake {
	if i := strings.LastIndex(body, StartMarker); i >= 0 {
		body = body[i+len(StartMarker):]
	}

	var m domain.Mistake
	for _, field := range strings.Split(body, fieldSeparator) {
		label, value, ok := splitField(field)
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(label, "incorrect"):
			m.UserInputSnippet = value
		case strings.HasPrefix(label, "correct"):
			m.Correction = value
		case strings.HasPrefix(label, "type"):
			m.MistakeType = value
		case strings.HasPrefix(label, "explanation"):
			m.Explanation = value
		}
	}
	return m
}

// splitField splits `label: "value"` at the first colon. The label is
// lower-cased and the value loses its surrounding whitespace and quotes.
func splitField(field string) (label, value string, ok bool) {
	label, value, ok = strings.Cut(field, ":")
	if !ok {
		return "", "", false
	}
	label = strings.ToLower(strings.TrimSpace(label))
	value = unquote(value)
	return label, value, label != ""
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"“”")
	return strings.TrimSpace(s)
}
