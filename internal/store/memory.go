package store

import (
	"context"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memoryCleanupInterval = 30 * time.Second

// MemoryStore is an in-process Store. It is selected with the URL
// "memory://" and suits single-instance deployments and tests; entries are
// lost on restart.
type MemoryStore struct {
	items  *gocache.Cache
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-process store with periodic eviction.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: gocache.New(gocache.NoExpiration, memoryCleanupInterval),
	}
}

func (s *MemoryStore) Acquire(_ context.Context) (Session, error) {
	if s.closed.Load() {
		return nil, ErrUnavailable
	}
	return memorySession{s: s}, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	if s.closed.Load() {
		return ErrUnavailable
	}
	return nil
}

func (s *MemoryStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.items.Flush()
	}
	return nil
}

type memorySession struct {
	s *MemoryStore
}

func (m memorySession) Get(_ context.Context, key string) Lookup {
	v, expiresAt, ok := m.s.items.GetWithExpiration(key)
	if !ok {
		return Miss()
	}
	stored := v.([]byte)
	value := make([]byte, len(stored))
	copy(value, stored)

	if expiresAt.IsZero() {
		return Hit(value, 0, false)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return Miss()
	}
	// Whole seconds, like Redis TTL.
	return Hit(value, ttl.Truncate(time.Second), true)
}

func (m memorySession) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.s.closed.Load() {
		return ErrUnavailable
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.s.items.Set(key, cp, ttl)
	return nil
}

func (m memorySession) Release() error { return nil }
