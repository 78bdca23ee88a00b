package protocol

import (
	"encoding/json"
	"fmt"
)

// Role of a history message in a sync snapshot.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryMessage is one entry of sync_state.messages.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SyncState is the full snapshot the server pushes after every (re)connect
// and after a session reset.
type SyncState struct {
	CurrentAgent  string           `json:"current_agent,omitempty"`
	Messages      []HistoryMessage `json:"messages,omitempty"`
	SharedContext map[string]any   `json:"shared_context,omitempty"`
	Cart          *Cart            `json:"cart,omitempty"`
}

// AgentTransition announces a hand-off between agents.
type AgentTransition struct {
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// PriceUpdate is the delta for one product.
type PriceUpdate struct {
	ProductID string  `json:"product_id"`
	NewPrice  float64 `json:"new_price"`
}

// ToolStatus values carried by tool_call.
const (
	ToolRunning = "running"
	ToolSuccess = "success"
)

// ChatStream is the forwarded form of a chat_stream frame: the payload is a
// bare string and the envelope carries the speaking agent.
type ChatStream struct {
	Text  string
	Agent string
}

// ToolCall reports backend tool activity. Fields beyond tool and status are
// kept raw.
type ToolCall struct {
	Tool   string                     `json:"tool,omitempty"`
	Status string                     `json:"status"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps every field so UI consumers can read tool specifics.
func (t *ToolCall) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for key, dst := range map[string]*string{"tool": &t.Tool, "status": &t.Status} {
		raw, ok := all[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("tool_call %s: %w", key, err)
		}
		delete(all, key)
	}
	t.Extra = all
	return nil
}

// CartStatus is the lifecycle of a cart.
type CartStatus string

const (
	CartEmpty            CartStatus = "empty"
	CartPendingInventory CartStatus = "pending_inventory"
	CartPendingCheckout  CartStatus = "pending_checkout"
	CartReserved         CartStatus = "reserved"
)

// Cart is the full cart snapshot. Total is whatever the producer asserted;
// it is never recomputed on this side.
type Cart struct {
	Items  []CartLineItem `json:"items"`
	Total  float64        `json:"total"`
	Status CartStatus     `json:"status"`
}

// CartLineItem is one product line. AgreedPrice and Savings are optional.
type CartLineItem struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	Qty           int      `json:"qty"`
	OriginalPrice float64  `json:"original_price"`
	AgreedPrice   *float64 `json:"agreed_price,omitempty"`
	Savings       *float64 `json:"savings,omitempty"`
}

// EmptyCart is the cart before the server has said anything.
func EmptyCart() Cart {
	return Cart{Items: []CartLineItem{}, Status: CartEmpty}
}

// EffectivePrice is the agreed price when negotiated, else the list price.
func (i CartLineItem) EffectivePrice() float64 {
	if i.AgreedPrice != nil {
		return *i.AgreedPrice
	}
	return i.OriginalPrice
}

// ComputedSavings prefers the producer's figure and otherwise derives
// max(0, original - agreed).
func (i CartLineItem) ComputedSavings() float64 {
	if i.Savings != nil {
		return *i.Savings
	}
	if i.AgreedPrice == nil {
		return 0
	}
	return max(0, i.OriginalPrice-*i.AgreedPrice)
}

// Quantity treats a missing qty as one unit.
func (i CartLineItem) Quantity() int {
	if i.Qty < 1 {
		return 1
	}
	return i.Qty
}

// ItemCount sums quantities across lines.
func (c Cart) ItemCount() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity()
	}
	return n
}

// Clone deep-copies the cart so snapshots cannot alias store state.
func (c Cart) Clone() Cart {
	out := Cart{Total: c.Total, Status: c.Status}
	out.Items = make([]CartLineItem, len(c.Items))
	for i, it := range c.Items {
		cp := it
		if it.AgreedPrice != nil {
			v := *it.AgreedPrice
			cp.AgreedPrice = &v
		}
		if it.Savings != nil {
			v := *it.Savings
			cp.Savings = &v
		}
		out.Items[i] = cp
	}
	return out
}
