package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/plebiscito/internal/logging"
	"github.com/oriys/plebiscito/internal/metrics"
	"github.com/oriys/plebiscito/internal/observability"
	"github.com/oriys/plebiscito/internal/store"
)

// Resolve returns the value for key, from the backing store when a live entry
// exists and opts.Bypass is false, otherwise from produce. A freshly produced
// value is written back with opts.TTL (or the accessor default).
//
// Each call acquires its own store session and releases it before returning.
// Store failures are logged and treated as a miss; only validation errors and
// errors returned by produce reach the caller.
func Resolve[T any](ctx context.Context, a *Accessor, key string, opts Options, produce Producer[T]) (Result[T], error) {
	var zero Result[T]
	if key == "" {
		return zero, ErrEmptyKey
	}
	if produce == nil {
		return zero, ErrNilProducer
	}
	if opts.TTL < 0 {
		return zero, ErrInvalidTTL
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = a.DefaultTTL()
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "cache.resolve",
		observability.AttrCacheKey.String(key),
		observability.AttrCacheBypass.Bool(opts.Bypass),
	)
	defer span.End()

	res, err := resolve(ctx, a, key, ttl, opts.Bypass, produce, span)
	if err != nil {
		metrics.RecordProviderError()
		observability.SetSpanError(span, err)
		return zero, err
	}

	span.SetAttributes(observability.AttrCacheOrigin.String(res.Origin.String()))
	if secs, ok := res.TTLSeconds(); ok {
		span.SetAttributes(observability.AttrCacheTTL.Int64(secs))
	}
	metrics.RecordResolveDuration(res.Origin.String(), float64(time.Since(start).Microseconds())/1000)
	return res, nil
}

func resolve[T any](ctx context.Context, a *Accessor, key string, ttl time.Duration, bypass bool, produce Producer[T], span trace.Span) (Result[T], error) {
	if !a.Enabled() {
		metrics.RecordCacheLookup(metrics.OutcomeDisabled)
		return produceFresh(ctx, produce)
	}

	sess, err := a.store.Acquire(ctx)
	if err != nil {
		storeFault("acquire", key, err)
		metrics.RecordCacheLookup(metrics.OutcomeUnavailable)
		return produceFresh(ctx, produce)
	}
	defer func() {
		if err := sess.Release(); err != nil {
			storeFault("release", key, err)
		}
	}()

	outcome := metrics.OutcomeBypass
	if !bypass {
		l := sess.Get(ctx, key)
		span.SetAttributes(observability.AttrCacheStatus.String(l.Status.String()))
		switch l.Status {
		case store.StatusHit:
			var v T
			err := codec.Unmarshal(l.Value, &v)
			if err == nil {
				metrics.RecordCacheLookup(metrics.OutcomeHit)
				return Result[T]{Value: v, Origin: OriginCacheHit, TTL: l.TTL, HasTTL: l.HasTTL}, nil
			}
			logging.Op().Warn("discarding undecodable cache entry", "key", key, "error", err)
			outcome = metrics.OutcomeMiss
		case store.StatusUnavailable:
			storeFault("get", key, l.Err)
			outcome = metrics.OutcomeUnavailable
		default:
			outcome = metrics.OutcomeMiss
		}
	}
	metrics.RecordCacheLookup(outcome)

	res, err := produceFresh(ctx, produce)
	if err != nil {
		return res, err
	}

	data, err := codec.Marshal(res.Value)
	if err != nil {
		logging.Op().Warn("cache value not serializable, skipping write", "key", key, "error", err)
		return res, nil
	}
	// The response no longer depends on the write, so a client hanging up
	// must not cancel it. The store's own op timeout still applies.
	if err := sess.Set(context.WithoutCancel(ctx), key, data, ttl); err != nil {
		storeFault("set", key, err)
	}
	return res, nil
}

func produceFresh[T any](ctx context.Context, produce Producer[T]) (Result[T], error) {
	v, err := produce(ctx)
	if err != nil {
		return Result[T]{}, err
	}
	return Result[T]{Value: v, Origin: OriginFresh}, nil
}

func storeFault(op, key string, err error) {
	metrics.RecordStoreError(op)
	logging.Op().Warn("cache store failure", "op", op, "key", key, "error", err)
}
