// Package session bundles the identity, state store, router, chat assembler
// and connection manager of one storefront session into a single object.
// All event handling runs on the session's loop goroutine.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"storefront/internal/chat"
	"storefront/internal/identity"
	"storefront/internal/protocol"
	"storefront/internal/router"
	"storefront/internal/state"
	"storefront/internal/transport"
	"storefront/pkg/logger"
)

// Config holds what a session needs beyond its collaborators.
type Config struct {
	ServerURL        string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	MaxMessageSize   int64
	Greeting         string
}

// Session is the context object handed to UI consumers.
type Session struct {
	id     string
	store  *state.Store
	router *router.Router
	chat   *chat.Assembler
	conn   *transport.Manager
	loop   *Loop

	closeOnce sync.Once
	log       zerolog.Logger
}

// New wires a session. The connection is not opened until Start. Extra
// transport options are applied after the ones derived from cfg.
func New(cfg Config, ids *identity.Provider, view chat.View, opts ...transport.Option) (*Session, error) {
	id := ids.GetOrCreateSessionID()
	url, err := transport.BuildURL(cfg.ServerURL, id)
	if err != nil {
		return nil, fmt.Errorf("build socket url: %w", err)
	}

	s := &Session{
		id:    id,
		store: state.NewStore(),
		loop:  NewLoop(),
		log:   logger.Component("session").With().Str("session_id", id).Logger(),
	}
	s.router = router.New(s.store)
	s.chat = chat.NewAssembler(view, s.store, chat.WithGreeting(cfg.Greeting))

	topts := []transport.Option{
		transport.WithReconnectDelay(cfg.ReconnectDelay),
		transport.WithHandshakeTimeout(cfg.HandshakeTimeout),
		transport.WithWriteTimeout(cfg.WriteTimeout),
		transport.WithReadTimeout(cfg.ReadTimeout),
		transport.WithMaxMessageSize(cfg.MaxMessageSize),
		transport.WithOnOpen(func() {
			s.loop.Post(func() { s.router.Trigger(router.EventConnected, nil) })
		}),
		transport.WithOnFrame(func(data []byte) {
			s.loop.Post(func() { s.router.HandleFrame(data) })
		}),
	}
	s.conn = transport.NewManager(url, append(topts, opts...)...)

	s.wire()
	return s, nil
}

func (s *Session) wire() {
	s.router.On(router.EventConnected, func(any) {
		s.log.Info().Str("url", s.conn.URL()).Msg("session connected")
	})
	s.router.On(protocol.TypeSyncState, func(data any) {
		s.chat.HandleSync(data.(protocol.SyncState))
	})
	s.router.On(protocol.TypeChatStream, func(data any) {
		s.chat.HandleStream(data.(protocol.ChatStream))
	})
	s.router.On(protocol.TypeAgentTransition, func(data any) {
		s.chat.HandleTransition(data.(protocol.AgentTransition))
	})
	s.router.On(protocol.TypeToolCall, func(data any) {
		s.chat.HandleToolCall(data.(protocol.ToolCall))
	})
	s.router.On(protocol.TypeResetUI, func(data any) {
		s.log.Info().RawJSON("payload", nonEmptyJSON(data.(json.RawMessage))).Msg("server finished the session")
		s.store.Reset()
		s.chat.HandleReset()
	})
	s.store.Subscribe(state.AgentChanged, func(data any) {
		s.chat.HandleAgentChanged(data.(state.Agent))
	})
}

func nonEmptyJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// ID returns the session token.
func (s *Session) ID() string { return s.id }

// Store returns the state store for subscriptions and snapshot reads.
func (s *Session) Store() *state.Store { return s.store }

// Router returns the event router for On registrations.
func (s *Session) Router() *router.Router { return s.router }

// ConnState returns the connection manager state.
func (s *Session) ConnState() transport.State { return s.conn.State() }

// Start opens the connection. When ctx is cancelled the session closes.
func (s *Session) Start(ctx context.Context) {
	s.conn.Connect()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.loop.Done():
		}
	}()
}

// SendMessage transmits text as-is. It reports false while offline.
func (s *Session) SendMessage(text string) bool {
	return s.conn.Send(text)
}

// Submit is the chat input action: the message is shown, sent, and followed
// by either the typing indicator or the offline notice. It must not be
// called from an event handler.
func (s *Session) Submit(text string) bool {
	var ok bool
	s.loop.Do(func() {
		ok = s.chat.Submit(text, s.conn.Send)
	})
	return ok
}

// ResetSession asks the server to drop the conversation. The server answers
// with a fresh sync_state.
func (s *Session) ResetSession() bool {
	return s.conn.Send(protocol.ResetSessionCommand)
}

// RequestOpenChat signals the chat widget to open.
func (s *Session) RequestOpenChat() {
	s.loop.Post(s.store.RequestOpenChat)
}

// Transcript returns the current chat messages.
func (s *Session) Transcript() []chat.Message {
	var msgs []chat.Message
	s.loop.Do(func() {
		msgs = s.chat.Messages()
	})
	return msgs
}

// Close shuts the connection and stops the loop.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		s.loop.Stop()
		s.log.Info().Msg("session closed")
	})
	return err
}
