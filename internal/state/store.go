// Package state holds the client-side view of the session: the current agent,
// the cart and negotiated price overrides. Consumers subscribe to named
// channels and receive snapshot copies on every mutation.
package state

import (
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog"

	"storefront/internal/protocol"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"
)

type subscription struct {
	id      uint64
	handler Handler
}

// Store is the reactive state store. Reads may happen from any goroutine;
// mutations are expected from the session loop.
type Store struct {
	mu        sync.RWMutex
	agent     Agent
	cart      protocol.Cart
	overrides map[string]float64

	subMu  sync.Mutex
	nextID uint64
	subs   map[Channel][]subscription

	log zerolog.Logger
}

// NewStore returns a store in its initial state.
func NewStore() *Store {
	return &Store{
		agent:     DefaultAgent,
		cart:      protocol.EmptyCart(),
		overrides: make(map[string]float64),
		subs:      make(map[Channel][]subscription),
		log:       logger.Component("state"),
	}
}

// Subscribe registers handler on channel. Handlers run in registration order.
// The returned func removes this registration only and may be called more
// than once.
func (s *Store) Subscribe(ch Channel, handler Handler) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[ch] = append(s.subs[ch], subscription{id: id, handler: handler})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(ch, id) })
	}
}

func (s *Store) remove(ch Channel, id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	list := s.subs[ch]
	for i, sub := range list {
		if sub.id == id {
			s.subs[ch] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Notify invokes every handler on ch synchronously with data. A panicking
// handler is logged and skipped. A protocol.Cart is copied for each handler
// so one subscriber's edits never reach the next.
func (s *Store) Notify(ch Channel, data any) {
	s.subMu.Lock()
	handlers := make([]Handler, len(s.subs[ch]))
	for i, sub := range s.subs[ch] {
		handlers[i] = sub.handler
	}
	s.subMu.Unlock()

	metrics.StoreNotifications.WithLabelValues(string(ch)).Inc()
	for _, h := range handlers {
		s.invoke(ch, h, ownCopy(data))
	}
}

func ownCopy(data any) any {
	if cart, ok := data.(protocol.Cart); ok {
		return cart.Clone()
	}
	return data
}

func (s *Store) invoke(ch Channel, h Handler, data any) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues("state").Inc()
			s.log.Error().
				Str("channel", string(ch)).
				Str("panic", fmt.Sprint(r)).
				Msg("subscriber panicked")
		}
	}()
	h(data)
}

// UpdateCart replaces the cart wholesale and notifies CartUpdated.
func (s *Store) UpdateCart(cart protocol.Cart) {
	if cart.Items == nil {
		cart.Items = []protocol.CartLineItem{}
	}
	s.mu.Lock()
	s.cart = cart.Clone()
	s.mu.Unlock()

	s.Notify(CartUpdated, cart)
}

// UpdatePrice records one price override and notifies PriceUpdated with the
// delta only.
func (s *Store) UpdatePrice(upd protocol.PriceUpdate) {
	s.mu.Lock()
	s.overrides[upd.ProductID] = upd.NewPrice
	s.mu.Unlock()

	s.Notify(PriceUpdated, upd)
}

// SetAgent replaces the current agent and notifies AgentChanged, even when
// the name did not change.
func (s *Store) SetAgent(name Agent) {
	s.mu.Lock()
	s.agent = name
	s.mu.Unlock()

	s.Notify(AgentChanged, name)
}

// Hydrate applies the store-relevant parts of a sync snapshot. Absent fields
// leave state untouched.
func (s *Store) Hydrate(snap protocol.SyncState) {
	if snap.CurrentAgent != "" {
		s.SetAgent(Agent(snap.CurrentAgent))
	}
	if snap.Cart != nil {
		s.UpdateCart(*snap.Cart)
	}
}

// Reset returns the store to its initial state: default agent, empty cart,
// no overrides.
func (s *Store) Reset() {
	s.mu.Lock()
	s.agent = DefaultAgent
	s.cart = protocol.EmptyCart()
	clear(s.overrides)
	cart := s.cart.Clone()
	s.mu.Unlock()

	s.Notify(AgentChanged, DefaultAgent)
	s.Notify(CartUpdated, cart)
}

// RequestOpenChat asks whichever component owns the chat widget to show it.
func (s *Store) RequestOpenChat() {
	s.Notify(RequestOpenChat, nil)
}

// CurrentAgent returns the agent owning the conversation.
func (s *Store) CurrentAgent() Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agent
}

// Cart returns a deep copy of the cart.
func (s *Store) Cart() protocol.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

// PriceOverrides returns a copy of the override map.
func (s *Store) PriceOverrides() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.overrides)
}

// PriceFor returns the override for productID, if any.
func (s *Store) PriceFor(productID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.overrides[productID]
	return p, ok
}

// Snapshot copies the whole store under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		CurrentAgent:   s.agent,
		Cart:           s.cart.Clone(),
		PriceOverrides: maps.Clone(s.overrides),
	}
}
