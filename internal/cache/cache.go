// Package cache implements the cache-aside accessor that sits in front of
// every API endpoint. Given a key and a producer, Resolve either returns the
// cached value with its remaining TTL or runs the producer, writes the result
// through to the backing store and returns it fresh.
//
// Store trouble never fails a resolution: an unconfigured, unreachable or
// misbehaving store degrades to calling the producer. Producer errors are
// always returned to the caller.
package cache

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/oriys/plebiscito/internal/store"
)

// DefaultTTL is the expiry used when neither the accessor nor the call sets one.
const DefaultTTL = 3600 * time.Second

var (
	// ErrEmptyKey is returned when Resolve is called without a key.
	ErrEmptyKey = errors.New("cache: empty key")
	// ErrInvalidTTL is returned for a negative TTL.
	ErrInvalidTTL = errors.New("cache: ttl must be positive")
	// ErrNilProducer is returned when Resolve is called without a producer.
	ErrNilProducer = errors.New("cache: nil producer")
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Origin tells where a resolved value came from.
type Origin int

const (
	OriginFresh    Origin = iota // produced during this call
	OriginCacheHit               // read from the backing store
)

func (o Origin) String() string {
	if o == OriginCacheHit {
		return "cache_hit"
	}
	return "fresh"
}

// Result is the outcome of a resolution.
type Result[T any] struct {
	Value  T
	Origin Origin
	// TTL is the remaining lifetime of the cached entry. It is only set on a
	// cache hit, and only when the store reports it (HasTTL).
	TTL    time.Duration
	HasTTL bool
}

// FromCache reports whether the value was served from the backing store.
func (r Result[T]) FromCache() bool {
	return r.Origin == OriginCacheHit
}

// TTLSeconds returns the remaining TTL in whole seconds and whether it is known.
func (r Result[T]) TTLSeconds() (int64, bool) {
	if r.Origin != OriginCacheHit || !r.HasTTL {
		return 0, false
	}
	return int64(r.TTL / time.Second), true
}

// Producer computes the authoritative value for a key. It must be idempotent.
type Producer[T any] func(ctx context.Context) (T, error)

// Options control a single resolution.
type Options struct {
	// Bypass skips the lookup and always recomputes, overwriting any entry.
	Bypass bool
	// TTL is the expiry for a freshly written entry. Zero selects the
	// accessor default.
	TTL time.Duration
}

// Accessor holds the process-wide store handle. A nil Accessor, or one built
// with a nil Store, runs in no-cache mode.
type Accessor struct {
	store      store.Store
	defaultTTL time.Duration
}

// New creates an accessor over s. s may be nil to disable caching; a
// non-positive defaultTTL selects DefaultTTL.
func New(s store.Store, defaultTTL time.Duration) *Accessor {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Accessor{store: s, defaultTTL: defaultTTL}
}

// Enabled reports whether a backing store is configured.
func (a *Accessor) Enabled() bool {
	return a != nil && a.store != nil
}

// Store returns the backing store, or nil in no-cache mode.
func (a *Accessor) Store() store.Store {
	if a == nil {
		return nil
	}
	return a.store
}

// DefaultTTL returns the expiry applied when Options.TTL is zero.
func (a *Accessor) DefaultTTL() time.Duration {
	if a == nil {
		return DefaultTTL
	}
	return a.defaultTTL
}
