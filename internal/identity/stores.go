package identity

import (
	"errors"

	"github.com/patrickmn/go-cache"

	"storefront/internal/storage"
)

// DBStore adapts the SQLite profile database to Store.
type DBStore struct {
	db *storage.DB
}

// NewDBStore wraps db.
func NewDBStore(db *storage.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Get(key string) (string, error) {
	v, err := s.db.KVGet(key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *DBStore) Set(key, value string) error {
	return s.db.KVSet(key, value, 0)
}

func (s *DBStore) Delete(key string) error {
	err := s.db.KVDelete(key)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// MemoryStore keeps values for the life of the process only.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Get(key string) (string, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	str, _ := v.(string)
	return str, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.c.Set(key, value, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	if _, ok := s.c.Get(key); !ok {
		return ErrNotFound
	}
	s.c.Delete(key)
	return nil
}
