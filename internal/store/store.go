// Package store defines the backing key-value store used by the cache-aside
// accessor. A Store is a process-wide handle created at startup and closed at
// shutdown; every cache resolution acquires its own Session and releases it
// before returning, so a failing store never holds state across requests.
//
// Reads return a Lookup instead of an error. Store faults surface as
// StatusUnavailable so callers branch on an explicit variant and can never
// fail a request because of cache trouble.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnavailable is returned by Acquire when the store cannot serve calls,
	// for example while its circuit breaker is open.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrUnsupportedURL is returned by Open for an unknown URL scheme.
	ErrUnsupportedURL = errors.New("store: unsupported url")
)

// Status is the outcome of a Session.Get.
type Status int

const (
	StatusMiss        Status = iota // key absent or expired
	StatusHit                       // value found
	StatusUnavailable               // the store failed; Lookup.Err holds the cause
)

func (s Status) String() string {
	switch s {
	case StatusMiss:
		return "miss"
	case StatusHit:
		return "hit"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Lookup is the result of reading one key.
type Lookup struct {
	Status Status
	Value  []byte
	// TTL is the remaining time to live. HasTTL is false when the store
	// does not report one (or the key has no expiry).
	TTL    time.Duration
	HasTTL bool
	Err    error
}

// Hit builds a StatusHit lookup.
func Hit(value []byte, ttl time.Duration, hasTTL bool) Lookup {
	return Lookup{Status: StatusHit, Value: value, TTL: ttl, HasTTL: hasTTL}
}

// Miss builds a StatusMiss lookup.
func Miss() Lookup {
	return Lookup{Status: StatusMiss}
}

// Unavailable builds a StatusUnavailable lookup carrying err.
func Unavailable(err error) Lookup {
	return Lookup{Status: StatusUnavailable, Err: err}
}

// Session is a single-call view of the store. It is not safe for concurrent
// use and must be released exactly once.
type Session interface {
	// Get reads key together with its remaining TTL.
	Get(ctx context.Context, key string) Lookup

	// Set writes value under key with the given expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Release returns the session's resources to the store.
	Release() error
}

// Store is the process-wide handle to the backing store.
type Store interface {
	// Acquire opens a session for one cache resolution.
	Acquire(ctx context.Context) (Session, error)

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// Options tune the store built by Open.
type Options struct {
	PoolSize    int
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

// Open builds a Store from a connection URL. An empty URL returns a nil Store
// and no error: caching is disabled.
//
//	redis://, rediss://  → RedisStore
//	memory://            → MemoryStore
func Open(rawURL string, opts Options) (Store, error) {
	rawURL = strings.TrimSpace(rawURL)
	switch {
	case rawURL == "":
		return nil, nil
	case strings.HasPrefix(rawURL, "memory://"):
		return NewMemoryStore(), nil
	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		return NewRedisStoreFromURL(rawURL, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, redactURL(rawURL))
	}
}

// redactURL hides credentials before a URL reaches a log line or error.
func redactURL(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return rawURL
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}
