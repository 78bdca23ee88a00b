package chat

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"storefront/internal/state"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#60a5fa")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34d399")).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af")).Italic(true)
	typingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280")).Faint(true)
	strongStyle    = lipgloss.NewStyle().Bold(true)
	emphasisStyle  = lipgloss.NewStyle().Italic(true)
	bothStyle      = lipgloss.NewStyle().Bold(true).Italic(true)

	agentColors = map[state.Agent]lipgloss.Color{
		state.AgentNegotiator:  lipgloss.Color("#f59e0b"),
		state.AgentOrderTaking: lipgloss.Color("#3b82f6"),
		state.AgentInventory:   lipgloss.Color("#8b5cf6"),
	}
	defaultAgentColor = lipgloss.Color("#34d399")
)

// TerminalView prints the transcript as a scrolling log. Streamed updates to
// the last printed message are written as suffixes on the same line.
type TerminalView struct {
	mu  sync.Mutex
	out io.Writer

	lastID   int
	shown    []Span // rendered form of lastID's text already written
	lineOpen bool
}

// NewTerminalView writes to out.
func NewTerminalView(out io.Writer) *TerminalView {
	return &TerminalView{out: out}
}

func (v *TerminalView) Append(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.endLine()
	fmt.Fprint(v.out, prefix(m))
	if m.Role == RoleSystem {
		fmt.Fprint(v.out, systemStyle.Render(m.Text))
	} else {
		fmt.Fprint(v.out, styleSpans(m.Spans(), 0))
	}
	v.lastID = m.ID
	v.shown = m.Spans()
	v.lineOpen = true
}

// Update writes only the new suffix while the text already on screen still
// renders the same. When a later chunk changes how the earlier text renders,
// such as a closing marker, the bubble is printed again in full.
func (v *TerminalView) Update(m Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	spans := m.Spans()
	if m.ID == v.lastID && v.lineOpen && hasStyledPrefix(spans, v.shown) {
		fmt.Fprint(v.out, styleSpans(spans, plainLen(v.shown)))
	} else {
		v.endLine()
		fmt.Fprint(v.out, prefix(m), styleSpans(spans, 0))
	}
	v.lastID = m.ID
	v.shown = spans
	v.lineOpen = true
}

func (v *TerminalView) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.endLine()
	fmt.Fprintln(v.out, typingStyle.Render("--- conversation cleared ---"))
	v.lastID, v.shown = 0, nil
}

func (v *TerminalView) SetTyping(on bool) {
	if !on {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.endLine()
	fmt.Fprintln(v.out, typingStyle.Render("  ..."))
	v.lastID, v.shown = 0, nil
}

func (v *TerminalView) SetStatus(st Status) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.endLine()
	fmt.Fprintln(v.out, StatusLine(st))
	v.lastID, v.shown = 0, nil
}

func (v *TerminalView) endLine() {
	if v.lineOpen {
		fmt.Fprintln(v.out)
		v.lineOpen = false
	}
}

// StatusLine renders "Agent: <name>" in the agent's colour.
func StatusLine(st Status) string {
	color, ok := agentColors[st.Agent]
	if !ok {
		color = defaultAgentColor
	}
	text := "Agent: " + string(st.Agent)
	if st.Busy {
		text += " (Thinking...)"
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(text)
}

func prefix(m Message) string {
	switch m.Role {
	case RoleUser:
		return userStyle.Render("you") + " > "
	case RoleSystem:
		return ""
	}
	name := "assistant"
	if m.Agent != "" {
		name = string(m.Agent)
	}
	return assistantStyle.Render(name) + " > "
}

type styledRune struct {
	r     rune
	style Style
}

func flatten(spans []Span) []styledRune {
	var out []styledRune
	for _, s := range spans {
		for _, r := range s.Text {
			out = append(out, styledRune{r, s.Style})
		}
	}
	return out
}

func plainLen(spans []Span) int {
	n := 0
	for _, s := range spans {
		n += len([]rune(s.Text))
	}
	return n
}

// hasStyledPrefix reports whether spans starts with exactly the runes and
// styles of prefix.
func hasStyledPrefix(spans, prefix []Span) bool {
	full, head := flatten(spans), flatten(prefix)
	if len(head) > len(full) {
		return false
	}
	for i := range head {
		if full[i] != head[i] {
			return false
		}
	}
	return true
}

// styleSpans renders spans, skipping the first skip runes of plain text.
func styleSpans(spans []Span, skip int) string {
	var b strings.Builder
	for _, s := range spans {
		r := []rune(s.Text)
		if skip >= len(r) {
			skip -= len(r)
			continue
		}
		text := string(r[skip:])
		skip = 0
		switch s.Style {
		case Strong:
			b.WriteString(strongStyle.Render(text))
		case Emphasis:
			b.WriteString(emphasisStyle.Render(text))
		case Strong | Emphasis:
			b.WriteString(bothStyle.Render(text))
		default:
			b.WriteString(text)
		}
	}
	return b.String()
}

// RenderTranscript renders the whole transcript as markdown through glamour,
// wrapped at width. It falls back to plain text if the renderer fails.
func RenderTranscript(messages []Message, width int) string {
	var md strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			fmt.Fprintf(&md, "**You:** %s\n\n", m.Text)
		case RoleSystem:
			fmt.Fprintf(&md, "> %s\n\n", m.Text)
		default:
			name := "Assistant"
			if m.Agent != "" {
				name = string(m.Agent)
			}
			fmt.Fprintf(&md, "**%s:** %s\n\n", name, m.Text)
		}
	}

	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md.String()
	}
	out, err := r.Render(md.String())
	if err != nil {
		return md.String()
	}
	return out
}
