// Package chat turns the server's chat_stream fragments into a transcript of
// bubbles and drives a View with it.
package chat

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"storefront/internal/protocol"
	"storefront/internal/state"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"
)

// OfflineNotice is shown when a message cannot be sent.
const OfflineNotice = "Connection offline. Please wait..."

const paragraphBreak = "\n\n"

// TurnState tracks where the current turn is.
type TurnState int

const (
	// Idle: no reply expected and no bubble open.
	Idle TurnState = iota
	// AwaitingReply: the user sent a message and nothing has streamed yet.
	AwaitingReply
	// StreamingReply: an assistant bubble is open and receives fragments.
	StreamingReply
)

func (t TurnState) String() string {
	switch t {
	case Idle:
		return "idle"
	case AwaitingReply:
		return "awaiting_reply"
	case StreamingReply:
		return "streaming_reply"
	}
	return fmt.Sprintf("turn(%d)", int(t))
}

// AgentSource reports the agent currently owning the conversation.
type AgentSource interface {
	CurrentAgent() state.Agent
}

// Assembler owns the transcript and the turn cursor. It is not safe for
// concurrent use; the session drives it from its loop.
type Assembler struct {
	view     View
	agents   AgentSource
	greeting string

	messages []Message
	nextID   int

	turn         TurnState
	open         int // index of the open assistant bubble, -1 when none
	breakPending bool
	typing       bool
	busy         bool

	log zerolog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithGreeting sets the assistant message shown on an empty or reset
// conversation.
func WithGreeting(text string) Option {
	return func(a *Assembler) {
		a.greeting = text
	}
}

// NewAssembler returns an assembler driving view. A nil view discards output.
func NewAssembler(view View, agents AgentSource, opts ...Option) *Assembler {
	if view == nil {
		view = NopView{}
	}
	a := &Assembler{
		view:   view,
		agents: agents,
		open:   -1,
		log:    logger.Component("chat"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Turn returns the current turn state.
func (a *Assembler) Turn() TurnState { return a.turn }

// Typing reports whether the typing indicator is shown.
func (a *Assembler) Typing() bool { return a.typing }

// Messages returns a copy of the transcript.
func (a *Assembler) Messages() []Message {
	return append([]Message(nil), a.messages...)
}

// Submit handles a user send: the text is trimmed and, if not empty, shown
// as a user bubble, the cursor is reset and send is called. A failed send
// adds the offline notice; a successful one shows the typing indicator.
func (a *Assembler) Submit(text string, send func(string) bool) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	a.append(Message{Role: RoleUser, Text: text})
	a.resetCursor(Idle)

	if !send(text) {
		a.appendSystem(OfflineNotice)
		return false
	}
	a.turn = AwaitingReply
	a.setTyping(true)
	return true
}

// HandleStream applies one chat_stream fragment. The text is split into
// paragraphs; each is either a system message or part of the open
// assistant bubble.
func (a *Assembler) HandleStream(ev protocol.ChatStream) {
	a.setTyping(false)
	if a.turn == AwaitingReply {
		a.turn = Idle
	}

	for i, para := range strings.Split(ev.Text, paragraphBreak) {
		if i > 0 {
			a.breakPending = true
		}
		if para == "" {
			continue
		}

		if strings.HasPrefix(para, protocol.SystemPrefix) {
			metrics.StreamFragments.WithLabelValues("system").Inc()
			a.appendSystem(para)
			continue
		}

		if a.open < 0 {
			if strings.TrimSpace(para) == "" {
				continue
			}
			metrics.StreamFragments.WithLabelValues("open").Inc()
			a.openBubble(para, ev.Agent)
			continue
		}

		metrics.StreamFragments.WithLabelValues("append").Inc()
		if a.breakPending {
			para = paragraphBreak + para
		}
		a.breakPending = false
		msg := &a.messages[a.open]
		msg.Text += para
		a.view.Update(*msg)
	}
}

// HandleSync rebuilds the transcript from a server snapshot.
func (a *Assembler) HandleSync(snap protocol.SyncState) {
	a.setTyping(false)
	a.resetCursor(Idle)
	a.clear()

	shown := 0
	for _, m := range snap.Messages {
		switch m.Role {
		case protocol.RoleUser:
			a.append(Message{Role: RoleUser, Text: m.Content})
			shown++
		case protocol.RoleAssistant:
			text := StripProtocolTags(m.Content)
			if text == "" {
				continue
			}
			a.append(Message{Role: RoleAssistant, Text: text})
			shown++
		default:
			a.log.Debug().Str("role", string(m.Role)).Msg("skipping history message")
		}
	}
	if len(snap.Messages) == 0 {
		a.showGreeting()
	}
	a.busy = false
	a.log.Debug().Int("messages", shown).Msg("transcript rehydrated")
	a.refreshStatus()
}

// HandleReset clears the conversation view after the server finished a
// session.
func (a *Assembler) HandleReset() {
	a.setTyping(false)
	a.resetCursor(Idle)
	a.busy = false
	a.clear()
	a.showGreeting()
}

// HandleTransition announces an agent hand-off as a system line.
func (a *Assembler) HandleTransition(tr protocol.AgentTransition) {
	line := fmt.Sprintf("*[System: Transferring you to %s agent...", tr.To)
	if tr.Reason != "" {
		line += " Reason: " + tr.Reason
	}
	a.appendSystem(line + "]*")
}

// HandleToolCall marks the agent busy while a backend tool runs.
func (a *Assembler) HandleToolCall(tc protocol.ToolCall) {
	switch tc.Status {
	case protocol.ToolRunning:
		a.busy = true
	case protocol.ToolSuccess:
		a.busy = false
	default:
		return
	}
	a.refreshStatus()
}

// HandleAgentChanged refreshes the status line for a new agent.
func (a *Assembler) HandleAgentChanged(state.Agent) {
	a.refreshStatus()
}

func (a *Assembler) openBubble(text, agent string) {
	if agent == "" && a.agents != nil {
		agent = string(a.agents.CurrentAgent())
	}
	a.append(Message{Role: RoleAssistant, Text: text, Agent: state.Agent(agent), Markdown: true})
	a.open = len(a.messages) - 1
	a.turn = StreamingReply
	a.breakPending = false
}

func (a *Assembler) appendSystem(text string) {
	a.append(Message{Role: RoleSystem, Text: text})
	if a.turn == StreamingReply {
		a.turn = Idle
	}
	a.open = -1
	a.breakPending = false
}

func (a *Assembler) append(m Message) {
	a.nextID++
	m.ID = a.nextID
	a.messages = append(a.messages, m)
	a.view.Append(m)
}

func (a *Assembler) clear() {
	a.messages = a.messages[:0]
	a.view.Clear()
}

func (a *Assembler) resetCursor(next TurnState) {
	a.open = -1
	a.breakPending = false
	a.turn = next
}

func (a *Assembler) setTyping(on bool) {
	if a.typing == on {
		return
	}
	a.typing = on
	a.view.SetTyping(on)
}

func (a *Assembler) showGreeting() {
	if a.greeting == "" {
		return
	}
	a.append(Message{Role: RoleAssistant, Text: a.greeting})
}

func (a *Assembler) refreshStatus() {
	st := Status{Busy: a.busy, Agent: state.DefaultAgent}
	if a.agents != nil {
		st.Agent = a.agents.CurrentAgent()
	}
	a.view.SetStatus(st)
}
