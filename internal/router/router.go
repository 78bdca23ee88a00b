// Package router decodes inbound envelopes, applies them to the state store
// and forwards them to locally registered handlers.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"storefront/internal/protocol"
	"storefront/internal/state"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"
)

// EventConnected is raised locally when the transport opens. It never
// arrives from the server.
const EventConnected protocol.EventType = "connected"

// Handler receives the data of a forwarded event. The concrete type depends
// on the event:
//
//	sync_state        protocol.SyncState
//	chat_stream       protocol.ChatStream
//	agent_transition  protocol.AgentTransition
//	tool_call         protocol.ToolCall
//	reset_ui          json.RawMessage
//	connected         nil
type Handler func(data any)

// StateSink is the part of the state store the router mutates.
type StateSink interface {
	Hydrate(protocol.SyncState)
	SetAgent(state.Agent)
	UpdatePrice(protocol.PriceUpdate)
	UpdateCart(protocol.Cart)
}

type registration struct {
	id      uint64
	handler Handler
}

// Router dispatches envelopes. HandleFrame and Route are meant to run on a
// single goroutine; On may be called from anywhere.
type Router struct {
	store StateSink

	mu       sync.Mutex
	nextID   uint64
	handlers map[protocol.EventType][]registration

	log zerolog.Logger
}

// New returns a router mutating store.
func New(store StateSink) *Router {
	return &Router{
		store:    store,
		handlers: make(map[protocol.EventType][]registration),
		log:      logger.Component("router"),
	}
}

// On appends handler for event. The returned func removes it.
func (r *Router) On(event protocol.EventType, handler Handler) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], registration{id: id, handler: handler})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			list := r.handlers[event]
			for i, reg := range list {
				if reg.id == id {
					r.handlers[event] = append(list[:i:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

// Trigger runs every handler registered for event in order. A panicking
// handler is logged and the rest still run.
func (r *Router) Trigger(event protocol.EventType, data any) {
	r.mu.Lock()
	regs := append([]registration(nil), r.handlers[event]...)
	r.mu.Unlock()

	for _, reg := range regs {
		r.invoke(event, reg.handler, data)
	}
}

func (r *Router) invoke(event protocol.EventType, h Handler, data any) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerPanics.WithLabelValues("router").Inc()
			r.log.Error().
				Str("event", string(event)).
				Str("panic", fmt.Sprint(rec)).
				Msg("event handler panicked")
		}
	}()
	h(data)
}

// HandleFrame decodes one transport frame and routes it. Undecodable frames
// are logged and dropped.
func (r *Router) HandleFrame(data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("malformed").Inc()
		r.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping frame")
		return
	}
	if err := r.Route(env); err != nil {
		r.log.Warn().Err(err).Str("type", string(env.Type)).Msg("dropping event")
	}
}

// ErrUnknownEvent is returned by Route for types outside the protocol.
var ErrUnknownEvent = errors.New("unknown event type")

// Route applies env to the store and forwards it. A payload that does not
// decode is dropped before any mutation.
func (r *Router) Route(env protocol.Envelope) error {
	if err := r.route(env); err != nil {
		reason := "payload"
		if errors.Is(err, ErrUnknownEvent) {
			reason = "unknown_type"
		}
		metrics.FramesDropped.WithLabelValues(reason).Inc()
		return err
	}
	metrics.EventsRouted.WithLabelValues(string(env.Type)).Inc()
	return nil
}

func (r *Router) route(env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeSyncState:
		var snap protocol.SyncState
		if err := env.DecodePayload(&snap); err != nil {
			return err
		}
		r.store.Hydrate(snap)
		r.Trigger(env.Type, snap)

	case protocol.TypeChatStream:
		var text string
		if err := env.DecodePayload(&text); err != nil {
			return err
		}
		r.Trigger(env.Type, protocol.ChatStream{Text: text, Agent: env.Agent})

	case protocol.TypeAgentTransition:
		var tr protocol.AgentTransition
		if err := env.DecodePayload(&tr); err != nil {
			return err
		}
		if tr.To == "" {
			return errors.New("agent_transition without target agent")
		}
		r.store.SetAgent(state.Agent(tr.To))
		r.Trigger(env.Type, tr)

	case protocol.TypePriceUpdate:
		var upd protocol.PriceUpdate
		if err := env.DecodePayload(&upd); err != nil {
			return err
		}
		if upd.ProductID == "" {
			return errors.New("price_update without product_id")
		}
		r.store.UpdatePrice(upd)

	case protocol.TypeCartUpdate:
		var cart protocol.Cart
		if err := env.DecodePayload(&cart); err != nil {
			return err
		}
		r.store.UpdateCart(cart)

	case protocol.TypeToolCall:
		var tc protocol.ToolCall
		if err := env.DecodePayload(&tc); err != nil {
			return err
		}
		r.Trigger(env.Type, tc)

	case protocol.TypeResetUI:
		r.Trigger(env.Type, json.RawMessage(env.Payload))

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	return nil
}
