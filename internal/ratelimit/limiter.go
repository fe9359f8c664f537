// Package ratelimit throttles API clients with token buckets, kept in Redis
// when the cache store is Redis and in process memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Backend performs an atomic token bucket check for key.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error)
}

// Config sizes every client's bucket.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	TrustedProxies    TrustedProxies
}

// Limiter applies one bucket size to all keys.
type Limiter struct {
	backend Backend
	cfg     Config
}

// New creates a limiter over backend. A non-positive burst is raised to one
// second's worth of requests.
func New(backend Backend, cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	return &Limiter{backend: backend, cfg: cfg}
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	allowed, remaining, err := l.backend.CheckRateLimit(ctx, key, l.cfg.Burst, l.cfg.RequestsPerSecond, 1)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	// Time until the bucket is full again
	missing := float64(l.cfg.Burst - remaining)
	refill := time.Duration(missing / l.cfg.RequestsPerSecond * float64(time.Second))

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   time.Now().Add(refill),
	}, nil
}

// KeyForIP returns the bucket key for a client address
func KeyForIP(ip string) string {
	return "ip:" + ip
}
