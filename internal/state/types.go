package state

import (
	"fmt"

	"storefront/internal/protocol"
)

// Channel names a notification stream on the store.
type Channel string

// Store channels.
const (
	CartUpdated     Channel = "cartUpdated"
	PriceUpdated    Channel = "priceUpdated"
	AgentChanged    Channel = "agentChanged"
	RequestOpenChat Channel = "requestOpenChat"
)

// ParseChannel validates a channel name coming from outside the process.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case CartUpdated, PriceUpdated, AgentChanged, RequestOpenChat:
		return c, nil
	}
	return "", fmt.Errorf("unknown state channel %q", s)
}

// Agent is the name of the backend agent owning the conversation.
type Agent string

// Agents the backend is known to hand off between.
const (
	AgentDiscovery   Agent = "Discovery"
	AgentNegotiator  Agent = "Negotiator"
	AgentInventory   Agent = "Inventory"
	AgentOrderTaking Agent = "OrderTaking"
)

// DefaultAgent owns a fresh session.
const DefaultAgent = AgentDiscovery

// Known reports whether a is one of the documented agents. Other names are
// still stored as sent.
func (a Agent) Known() bool {
	switch a {
	case AgentDiscovery, AgentNegotiator, AgentInventory, AgentOrderTaking:
		return true
	}
	return false
}

// Handler receives the data of one notification. The concrete type depends
// on the channel: protocol.Cart for CartUpdated, protocol.PriceUpdate for
// PriceUpdated, Agent for AgentChanged and nil for RequestOpenChat.
type Handler func(data any)

// Snapshot is a copy of the whole store.
type Snapshot struct {
	CurrentAgent   Agent              `json:"current_agent"`
	Cart           protocol.Cart      `json:"cart"`
	PriceOverrides map[string]float64 `json:"price_overrides"`
}
