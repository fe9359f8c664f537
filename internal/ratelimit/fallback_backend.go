package ratelimit

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/oriys/plebiscito/internal/logging"
)

const (
	// probeInterval is the minimum time between probes of a failed primary.
	probeInterval = 5 * time.Second
	probeTimeout  = time.Second

	localBucketIdle    = 10 * time.Minute
	localCleanupPeriod = time.Minute
)

// FallbackBackend uses primary (Redis) and degrades to in-process buckets
// while primary is failing. A background probe restores primary once it
// answers again.
type FallbackBackend struct {
	primary       Backend
	local         *LocalBackend
	degraded      atomic.Bool
	probeMu       sync.Mutex
	lastProbeTime atomic.Int64 // unix nanoseconds
}

// NewFallbackBackend wraps primary with a local fallback.
func NewFallbackBackend(primary Backend) *FallbackBackend {
	return &FallbackBackend{
		primary: primary,
		local:   NewLocalBackend(),
	}
}

func (f *FallbackBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	if f.degraded.Load() {
		if time.Since(time.Unix(0, f.lastProbeTime.Load())) > probeInterval {
			go f.probeAndRecover(context.WithoutCancel(ctx))
		}
		return f.local.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}

	allowed, remaining, err := f.primary.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	if err != nil {
		logging.Op().Warn("rate limit backend failed, using local buckets", "error", err)
		f.lastProbeTime.Store(time.Now().UnixNano())
		f.degraded.Store(true)
		return f.local.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}
	return allowed, remaining, nil
}

func (f *FallbackBackend) probeAndRecover(ctx context.Context) {
	if !f.probeMu.TryLock() {
		return
	}
	defer f.probeMu.Unlock()

	f.lastProbeTime.Store(time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	// requested=0 reads the probe bucket without debiting it.
	if _, _, err := f.primary.CheckRateLimit(ctx, "probe", 1, 1, 0); err == nil {
		logging.Op().Info("rate limit backend recovered")
		f.degraded.Store(false)
	}
}

// Degraded reports whether checks are currently served locally.
func (f *FallbackBackend) Degraded() bool {
	return f.degraded.Load()
}

// LocalBackend keeps buckets in process memory. Buckets idle for ten
// minutes are evicted.
type LocalBackend struct {
	mu      sync.Mutex
	buckets *gocache.Cache
	now     func() time.Time
}

type localBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewLocalBackend creates an empty in-process backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		buckets: gocache.New(localBucketIdle, localCleanupPeriod),
		now:     time.Now,
	}
}

func (l *LocalBackend) CheckRateLimit(_ context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var b *localBucket
	if v, ok := l.buckets.Get(key); ok {
		b = v.(*localBucket)
	} else {
		b = &localBucket{tokens: float64(maxTokens), lastRefill: now}
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(maxTokens), b.tokens+elapsed*refillRate)
		b.lastRefill = now
	}

	allowed := b.tokens >= float64(requested)
	if allowed {
		b.tokens -= float64(requested)
	}
	// Re-setting refreshes the idle expiry.
	l.buckets.SetDefault(key, b)
	return allowed, int(b.tokens), nil
}
