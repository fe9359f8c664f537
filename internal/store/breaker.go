package store

import (
	"context"
	"time"

	"github.com/oriys/plebiscito/internal/circuitbreaker"
)

// BreakerStore guards a Store with a circuit breaker. While the breaker is
// open Acquire fails fast with ErrUnavailable, so requests skip a store that
// has been failing instead of waiting on it.
type BreakerStore struct {
	inner   Store
	breaker *circuitbreaker.Breaker
}

// WithBreaker wraps inner. A nil breaker returns inner unchanged.
func WithBreaker(inner Store, b *circuitbreaker.Breaker) Store {
	if inner == nil || b == nil {
		return inner
	}
	return &BreakerStore{inner: inner, breaker: b}
}

// Breaker exposes the breaker for health reporting.
func (s *BreakerStore) Breaker() *circuitbreaker.Breaker {
	return s.breaker
}

// Unwrap returns the guarded store.
func (s *BreakerStore) Unwrap() Store {
	return s.inner
}

func (s *BreakerStore) Acquire(ctx context.Context) (Session, error) {
	if !s.breaker.Allow() {
		return nil, ErrUnavailable
	}
	sess, err := s.inner.Acquire(ctx)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, err
	}
	return &breakerSession{inner: sess, breaker: s.breaker}, nil
}

func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *BreakerStore) Close() error {
	return s.inner.Close()
}

// breakerSession reports the outcome of the session as a whole: any store
// failure during the call counts as one failure.
type breakerSession struct {
	inner   Session
	breaker *circuitbreaker.Breaker
	failed  bool
}

func (bs *breakerSession) Get(ctx context.Context, key string) Lookup {
	l := bs.inner.Get(ctx, key)
	if l.Status == StatusUnavailable {
		bs.failed = true
	}
	return l
}

func (bs *breakerSession) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := bs.inner.Set(ctx, key, value, ttl)
	if err != nil {
		bs.failed = true
	}
	return err
}

func (bs *breakerSession) Release() error {
	err := bs.inner.Release()
	if bs.failed || err != nil {
		bs.breaker.RecordFailure()
	} else {
		bs.breaker.RecordSuccess()
	}
	return err
}
