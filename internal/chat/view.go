package chat

import "storefront/internal/state"

// View is the sink the assembler drives. Implementations render however
// they like; calls arrive on the session goroutine.
type View interface {
	// Append adds a new message at the end of the transcript.
	Append(Message)
	// Update replaces the content of a message already appended.
	Update(Message)
	// Clear empties the transcript.
	Clear()
	// SetTyping shows or hides the typing indicator.
	SetTyping(bool)
	// SetStatus refreshes the agent status line.
	SetStatus(Status)
}

// Status is the header line shown above the transcript.
type Status struct {
	Agent state.Agent
	Busy  bool
}

// NopView discards everything.
type NopView struct{}

func (NopView) Append(Message)   {}
func (NopView) Update(Message)   {}
func (NopView) Clear()           {}
func (NopView) SetTyping(bool)   {}
func (NopView) SetStatus(Status) {}
