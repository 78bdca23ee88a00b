package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/protocol"
)

func ptr(v float64) *float64 { return &v }

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore()
	assert.Equal(t, AgentDiscovery, s.CurrentAgent())
	assert.Equal(t, protocol.CartEmpty, s.Cart().Status)
	assert.Empty(t, s.Cart().Items)
	assert.Empty(t, s.PriceOverrides())
}

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel("cartUpdated")
	require.NoError(t, err)
	assert.Equal(t, CartUpdated, ch)

	_, err = ParseChannel("cart_updated")
	assert.Error(t, err)
}

func TestAgentKnown(t *testing.T) {
	assert.True(t, AgentOrderTaking.Known())
	assert.False(t, Agent("Auditor").Known())
}

func TestSubscribe_Order(t *testing.T) {
	s := NewStore()
	var calls []string
	s.Subscribe(AgentChanged, func(any) { calls = append(calls, "first") })
	s.Subscribe(AgentChanged, func(any) { calls = append(calls, "second") })

	s.SetAgent(AgentNegotiator)

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	s := NewStore()
	var a, b int
	unsubA := s.Subscribe(CartUpdated, func(any) { a++ })
	s.Subscribe(CartUpdated, func(any) { b++ })

	s.UpdateCart(protocol.EmptyCart())
	unsubA()
	unsubA()
	s.UpdateCart(protocol.EmptyCart())

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestNotify_PanicIsolation(t *testing.T) {
	s := NewStore()
	var reached bool
	s.Subscribe(PriceUpdated, func(any) { panic("boom") })
	s.Subscribe(PriceUpdated, func(any) { reached = true })

	require.NotPanics(t, func() {
		s.UpdatePrice(protocol.PriceUpdate{ProductID: "p1", NewPrice: 5})
	})
	assert.True(t, reached)
	price, ok := s.PriceFor("p1")
	assert.True(t, ok)
	assert.Equal(t, 5.0, price)
}

func TestUpdateCart_LatestSnapshotWins(t *testing.T) {
	s := NewStore()
	var got []protocol.Cart
	s.Subscribe(CartUpdated, func(data any) { got = append(got, data.(protocol.Cart)) })

	carts := []protocol.Cart{
		{Items: []protocol.CartLineItem{{ID: "a", Qty: 1, OriginalPrice: 10}, {ID: "b", Qty: 1, OriginalPrice: 20}}, Total: 30, Status: protocol.CartPendingInventory},
		{Items: []protocol.CartLineItem{{ID: "c", Qty: 3, OriginalPrice: 5}}, Total: 15, Status: protocol.CartPendingCheckout},
		{Items: nil, Total: 0, Status: protocol.CartEmpty},
	}
	for i, c := range carts {
		s.UpdateCart(c)
		require.Len(t, got, i+1)
		assert.Equal(t, len(c.Items), len(got[i].Items))
		assert.Equal(t, c.Total, got[i].Total)
		assert.Equal(t, c.Status, got[i].Status)
	}
	// no merging across calls
	assert.Empty(t, s.Cart().Items)
}

func TestUpdateCart_SnapshotIsolated(t *testing.T) {
	s := NewStore()
	var received protocol.Cart
	s.Subscribe(CartUpdated, func(data any) { received = data.(protocol.Cart) })

	in := protocol.Cart{Items: []protocol.CartLineItem{{ID: "p1", OriginalPrice: 10}}, Status: protocol.CartReserved}
	s.UpdateCart(in)

	in.Items[0].ID = "mutated-by-producer"
	received.Items[0].ID = "mutated-by-subscriber"

	assert.Equal(t, "p1", s.Cart().Items[0].ID)
}

func TestUpdateCart_EachSubscriberGetsOwnItems(t *testing.T) {
	s := NewStore()
	s.Subscribe(CartUpdated, func(data any) {
		cart := data.(protocol.Cart)
		cart.Items[0].Qty = 99
		*cart.Items[0].AgreedPrice = 1
	})
	var second protocol.Cart
	s.Subscribe(CartUpdated, func(data any) { second = data.(protocol.Cart) })

	s.UpdateCart(protocol.Cart{Items: []protocol.CartLineItem{{ID: "p1", Qty: 2, OriginalPrice: 10, AgreedPrice: ptr(8)}}})

	require.Len(t, second.Items, 1)
	assert.Equal(t, 2, second.Items[0].Qty)
	assert.Equal(t, 8.0, *second.Items[0].AgreedPrice)
	assert.Equal(t, 2, s.Cart().Items[0].Qty)
}

func TestUpdateCart_TotalNotRecomputed(t *testing.T) {
	s := NewStore()
	s.UpdateCart(protocol.Cart{Items: []protocol.CartLineItem{{ID: "p1", Qty: 2, OriginalPrice: 10}}, Total: 999})
	assert.Equal(t, 999.0, s.Cart().Total)
}

func TestCartUpdate_SubscriberComputesSavings(t *testing.T) {
	s := NewStore()
	var savings float64
	s.Subscribe(CartUpdated, func(data any) {
		savings = data.(protocol.Cart).Items[0].ComputedSavings()
	})

	s.UpdateCart(protocol.Cart{
		Items:  []protocol.CartLineItem{{ID: "p1", Qty: 2, OriginalPrice: 1000, AgreedPrice: ptr(800)}},
		Total:  1600,
		Status: protocol.CartReserved,
	})

	assert.Equal(t, 200.0, savings)
}

func TestUpdatePrice_LatestWinsOneNotificationPerCall(t *testing.T) {
	s := NewStore()
	var deltas []protocol.PriceUpdate
	s.Subscribe(PriceUpdated, func(data any) { deltas = append(deltas, data.(protocol.PriceUpdate)) })

	for i := 1; i <= 5; i++ {
		s.UpdatePrice(protocol.PriceUpdate{ProductID: "p1", NewPrice: float64(i * 100)})
	}
	s.UpdatePrice(protocol.PriceUpdate{ProductID: "p2", NewPrice: 7})

	require.Len(t, deltas, 6)
	for i := 0; i < 5; i++ {
		assert.Equal(t, protocol.PriceUpdate{ProductID: "p1", NewPrice: float64((i + 1) * 100)}, deltas[i])
	}
	assert.Equal(t, map[string]float64{"p1": 500, "p2": 7}, s.PriceOverrides())
}

func TestPriceOverrides_ReturnsCopy(t *testing.T) {
	s := NewStore()
	s.UpdatePrice(protocol.PriceUpdate{ProductID: "p1", NewPrice: 1})

	m := s.PriceOverrides()
	m["p1"] = 42

	p, _ := s.PriceFor("p1")
	assert.Equal(t, 1.0, p)
}

func TestSetAgent_NotifiesEvenWhenUnchanged(t *testing.T) {
	s := NewStore()
	var got []Agent
	s.Subscribe(AgentChanged, func(data any) { got = append(got, data.(Agent)) })

	s.SetAgent(AgentDiscovery)
	s.SetAgent(Agent("Auditor"))

	assert.Equal(t, []Agent{AgentDiscovery, "Auditor"}, got)
	assert.Equal(t, Agent("Auditor"), s.CurrentAgent())
}

func TestHydrate(t *testing.T) {
	tests := []struct {
		name      string
		sync      protocol.SyncState
		wantAgent Agent
		wantItems int
		notified  []Channel
	}{
		{"empty snapshot", protocol.SyncState{}, AgentDiscovery, 0, nil},
		{"agent only", protocol.SyncState{CurrentAgent: "Inventory"}, AgentInventory, 0, []Channel{AgentChanged}},
		{
			"agent and cart",
			protocol.SyncState{CurrentAgent: "OrderTaking", Cart: &protocol.Cart{Items: []protocol.CartLineItem{{ID: "p1"}}}},
			AgentOrderTaking, 1, []Channel{AgentChanged, CartUpdated},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			var notified []Channel
			for _, ch := range []Channel{AgentChanged, CartUpdated} {
				s.Subscribe(ch, func(any) { notified = append(notified, ch) })
			}

			s.Hydrate(tt.sync)

			assert.Equal(t, tt.wantAgent, s.CurrentAgent())
			assert.Len(t, s.Cart().Items, tt.wantItems)
			assert.Equal(t, tt.notified, notified)
		})
	}
}

func TestReset(t *testing.T) {
	s := NewStore()
	s.SetAgent(AgentNegotiator)
	s.UpdatePrice(protocol.PriceUpdate{ProductID: "p1", NewPrice: 5})
	s.UpdateCart(protocol.Cart{Items: []protocol.CartLineItem{{ID: "p1"}}, Status: protocol.CartReserved})

	var order []string
	s.Subscribe(AgentChanged, func(data any) { order = append(order, fmt.Sprint("agent:", data)) })
	s.Subscribe(CartUpdated, func(data any) { order = append(order, fmt.Sprint("cart:", data.(protocol.Cart).Status)) })

	s.Reset()

	assert.Equal(t, []string{"agent:Discovery", "cart:empty"}, order)
	snap := s.Snapshot()
	assert.Equal(t, AgentDiscovery, snap.CurrentAgent)
	assert.Empty(t, snap.Cart.Items)
	assert.Empty(t, snap.PriceOverrides)
}

func TestRequestOpenChat(t *testing.T) {
	s := NewStore()
	opened := 0
	s.Subscribe(RequestOpenChat, func(data any) {
		assert.Nil(t, data)
		opened++
	})

	s.RequestOpenChat()
	assert.Equal(t, 1, opened)
}

func TestConcurrentReads(t *testing.T) {
	s := NewStore()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = s.Snapshot()
			_, _ = s.PriceFor("p1")
		}
	}()
	for i := 0; i < 200; i++ {
		s.UpdatePrice(protocol.PriceUpdate{ProductID: "p1", NewPrice: float64(i)})
	}
	<-done
}
