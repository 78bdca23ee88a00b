// Package identity issues the client-generated session token and keeps it
// stable across restarts of the same profile.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storefront/pkg/logger"
)

// SessionKey is the storage key holding the session token.
const SessionKey = "session_id"

// tokenPrefix matches the ids the backend already knows how to route.
const tokenPrefix = "session_"

// ErrNotFound is returned by a Store when the key has never been written.
var ErrNotFound = errors.New("identity: key not found")

// Store is the durable key/value surface the provider needs.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Provider hands out the session id for one profile.
type Provider struct {
	store Store
	log   zerolog.Logger
}

// NewProvider returns a provider backed by store. A nil store puts the
// provider in degraded mode: every call yields a fresh id.
func NewProvider(store Store) *Provider {
	return &Provider{
		store: store,
		log:   logger.Component("identity"),
	}
}

// GetOrCreateSessionID returns the persisted id, generating and persisting
// one on first use. If storage is unavailable the id is regenerated on every
// call.
func (p *Provider) GetOrCreateSessionID() string {
	if p.store == nil {
		return NewToken()
	}

	id, err := p.store.Get(SessionKey)
	if err == nil && id != "" {
		return id
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		p.log.Warn().Err(err).Msg("session storage unavailable, using ephemeral id")
		return NewToken()
	}

	id = NewToken()
	if err := p.store.Set(SessionKey, id); err != nil {
		p.log.Warn().Err(err).Msg("persist session id failed, id will not survive restart")
	}
	return id
}

// Forget removes the stored id so the next call issues a new one.
func (p *Provider) Forget() error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Delete(SessionKey); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("forget session id: %w", err)
	}
	return nil
}

// NewToken generates a random session token: the prefix plus a v4 UUID
// without dashes (122 random bits).
func NewToken() string {
	return tokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
