package chat

import (
	"regexp"
	"strings"

	"storefront/internal/state"
)

// Role of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one bubble in the transcript. Text is kept raw; Markdown marks
// streamed assistant replies whose inline markers should be rendered.
type Message struct {
	ID       int
	Role     Role
	Text     string
	Agent    state.Agent
	Markdown bool
}

// Style flags for an inline span.
type Style uint8

const (
	Plain    Style = 0
	Strong   Style = 1 << 0
	Emphasis Style = 1 << 1
)

// Span is a run of text with one style.
type Span struct {
	Text  string
	Style Style
}

var (
	strongRe   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	emphasisRe = regexp.MustCompile(`\*(.*?)\*`)
	protoTagRe = regexp.MustCompile(`\{.*?\}`)
)

// Spans returns the message as styled runs. Messages that are not markdown
// come back as one plain span.
func (m Message) Spans() []Span {
	if !m.Markdown {
		if m.Text == "" {
			return nil
		}
		return []Span{{Text: m.Text}}
	}
	return ParseInline(m.Text)
}

// Plain returns the text with inline markers removed.
func (m Message) Plain() string {
	var b strings.Builder
	for _, s := range m.Spans() {
		b.WriteString(s.Text)
	}
	return b.String()
}

// ParseInline converts **strong** and *emphasis* markers into spans. Strong
// is matched first, then emphasis inside every resulting run, so emphasis
// may nest in strong. Markers never span a newline. A lone pair of stars
// with nothing between them is dropped.
func ParseInline(text string) []Span {
	var out []Span
	for _, s := range splitBy(strongRe, text, Plain, Strong) {
		out = append(out, splitBy(emphasisRe, s.Text, s.Style, s.Style|Emphasis)...)
	}
	return mergeSpans(out)
}

// splitBy cuts text around re matches: the captured group of each match gets
// matched, the runs between matches get base.
func splitBy(re *regexp.Regexp, text string, base, matched Style) []Span {
	var out []Span
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > last {
			out = append(out, Span{Text: text[last:loc[0]], Style: base})
		}
		if inner := text[loc[2]:loc[3]]; inner != "" {
			out = append(out, Span{Text: inner, Style: matched})
		}
		last = loc[1]
	}
	if last < len(text) {
		out = append(out, Span{Text: text[last:], Style: base})
	}
	return out
}

func mergeSpans(in []Span) []Span {
	var out []Span
	for _, s := range in {
		if s.Text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Style == s.Style {
			out[n-1].Text += s.Text
			continue
		}
		out = append(out, s)
	}
	return out
}

// StripProtocolTags removes {...} control blocks the backend embeds in
// stored assistant messages and trims the result.
func StripProtocolTags(s string) string {
	return strings.TrimSpace(protoTagRe.ReplaceAllString(s, ""))
}
