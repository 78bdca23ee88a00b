// Package protocol defines the wire format exchanged with the commerce
// backend over the chat WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags an inbound envelope.
type EventType string

// Inbound event types.
const (
	TypeSyncState       EventType = "sync_state"
	TypeChatStream      EventType = "chat_stream"
	TypeAgentTransition EventType = "agent_transition"
	TypePriceUpdate     EventType = "price_update"
	TypeCartUpdate      EventType = "cart_update"
	TypeToolCall        EventType = "tool_call"
	TypeResetUI         EventType = "reset_ui"
)

// ResetSessionCommand asks the server to drop the conversation and start over.
const ResetSessionCommand = "/reset_session"

// SystemPrefix marks a chat_stream paragraph as a system message.
const SystemPrefix = "*[System:"

// ErrMalformedFrame wraps any frame that is not a JSON envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// Known reports whether t is one of the protocol's event types.
func (t EventType) Known() bool {
	switch t {
	case TypeSyncState, TypeChatStream, TypeAgentTransition, TypePriceUpdate,
		TypeCartUpdate, TypeToolCall, TypeResetUI:
		return true
	}
	return false
}

// Envelope is one decoded inbound frame. Payload stays raw until the router
// knows which shape to decode it into.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Agent   string          `json:"agent,omitempty"`
}

// Outbound is the only frame the client sends.
type Outbound struct {
	Message string `json:"message"`
}

// DecodeEnvelope parses one transport frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env, nil
}

// EncodeOutbound serialises a user message.
func EncodeOutbound(text string) ([]byte, error) {
	return json.Marshal(Outbound{Message: text})
}

// DecodePayload unmarshals the envelope payload into v. An absent or null
// payload leaves v at its zero value.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
