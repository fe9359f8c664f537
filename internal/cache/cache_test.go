package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/plebiscito/internal/store"
)

type zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// counter returns a producer yielding v and the number of times it ran.
func counter[T any](v T) (Producer[T], *atomic.Int64) {
	var calls atomic.Int64
	return func(context.Context) (T, error) {
		calls.Add(1)
		return v, nil
	}, &calls
}

func newRedisAccessor(t *testing.T) (*Accessor, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := store.NewRedisStoreFromURL("redis://"+mr.Addr(), store.Options{OpTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, 0), mr
}

func TestResolve_MissThenHit(t *testing.T) {
	a, mr := newRedisAccessor(t)
	ctx := context.Background()
	zones := []zone{{ID: "1", Name: "Arica"}, {ID: "2", Name: "Tarapacá"}}
	produce, calls := counter(zones)

	first, err := Resolve(ctx, a, "zones", Options{}, produce)
	require.NoError(t, err)
	assert.Equal(t, OriginFresh, first.Origin)
	assert.False(t, first.HasTTL)
	assert.Equal(t, zones, first.Value)
	assert.Equal(t, DefaultTTL, mr.TTL("zones"), "entry written with the default expiry")

	second, err := Resolve(ctx, a, "zones", Options{}, produce)
	require.NoError(t, err)
	assert.Equal(t, OriginCacheHit, second.Origin)
	assert.True(t, second.FromCache())
	assert.Equal(t, zones, second.Value)
	assert.EqualValues(t, 1, calls.Load(), "producer must not run on a hit")

	secs, ok := second.TTLSeconds()
	require.True(t, ok)
	assert.LessOrEqual(t, secs, int64(3600))
	assert.Greater(t, secs, int64(3590))
}

func TestResolve_BypassOverwrites(t *testing.T) {
	a, mr := newRedisAccessor(t)
	ctx := context.Background()

	_, err := Resolve(ctx, a, "elections", Options{}, func(context.Context) (string, error) { return "old", nil })
	require.NoError(t, err)

	res, err := Resolve(ctx, a, "elections", Options{Bypass: true}, func(context.Context) (string, error) { return "new", nil })
	require.NoError(t, err)
	assert.Equal(t, OriginFresh, res.Origin)
	assert.Equal(t, "new", res.Value)

	got, err := mr.Get("elections")
	require.NoError(t, err)
	assert.Equal(t, `"new"`, got)

	res, err = Resolve(ctx, a, "elections", Options{}, func(context.Context) (string, error) { return "unused", nil })
	require.NoError(t, err)
	assert.Equal(t, OriginCacheHit, res.Origin)
	assert.Equal(t, "new", res.Value)
}

func TestResolve_BypassAlwaysFresh(t *testing.T) {
	a := New(store.NewMemoryStore(), 0)
	produce, calls := counter(42)

	for i := 0; i < 3; i++ {
		res, err := Resolve(context.Background(), a, "k", Options{Bypass: true}, produce)
		require.NoError(t, err)
		assert.Equal(t, OriginFresh, res.Origin)
	}
	assert.EqualValues(t, 3, calls.Load())
}

func TestResolve_DisabledAlwaysFresh(t *testing.T) {
	for name, a := range map[string]*Accessor{
		"nil accessor": nil,
		"nil store":    New(nil, 0),
	} {
		t.Run(name, func(t *testing.T) {
			produce, calls := counter("v")
			for i := 0; i < 3; i++ {
				res, err := Resolve(context.Background(), a, "zones", Options{}, produce)
				require.NoError(t, err)
				assert.Equal(t, OriginFresh, res.Origin)
				_, ok := res.TTLSeconds()
				assert.False(t, ok)
			}
			assert.EqualValues(t, 3, calls.Load())
			assert.False(t, a.Enabled())
		})
	}
}

func TestResolve_CustomTTL(t *testing.T) {
	a, mr := newRedisAccessor(t)
	_, err := Resolve(context.Background(), a, "files", Options{TTL: 5 * time.Minute}, func(context.Context) ([]string, error) {
		return []string{"a.json"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, mr.TTL("files"))
}

func TestResolve_TTLDecreasesWithoutRenewal(t *testing.T) {
	a, mr := newRedisAccessor(t)
	ctx := context.Background()
	produce, _ := counter("v")

	_, err := Resolve(ctx, a, "ambit", Options{TTL: 100 * time.Second}, produce)
	require.NoError(t, err)

	mr.FastForward(10 * time.Second)
	r1, err := Resolve(ctx, a, "ambit", Options{TTL: 100 * time.Second}, produce)
	require.NoError(t, err)
	mr.FastForward(10 * time.Second)
	r2, err := Resolve(ctx, a, "ambit", Options{TTL: 100 * time.Second}, produce)
	require.NoError(t, err)

	t1, _ := r1.TTLSeconds()
	t2, _ := r2.TTLSeconds()
	assert.EqualValues(t, 90, t1)
	assert.EqualValues(t, 80, t2)
	assert.Less(t, t2, t1)
}

func TestResolve_KeysDoNotCollide(t *testing.T) {
	a := New(store.NewMemoryStore(), 0)
	ctx := context.Background()

	five := Key(PrefixResults, "zone", "5")
	fifty := Key(PrefixResults, "zone", "50")

	_, err := Resolve(ctx, a, five, Options{}, func(context.Context) (string, error) { return "five", nil })
	require.NoError(t, err)
	res, err := Resolve(ctx, a, fifty, Options{}, func(context.Context) (string, error) { return "fifty", nil })
	require.NoError(t, err)
	assert.Equal(t, OriginFresh, res.Origin)
	assert.Equal(t, "fifty", res.Value)

	res, err = Resolve(ctx, a, five, Options{}, func(context.Context) (string, error) { return "unused", nil })
	require.NoError(t, err)
	assert.Equal(t, "five", res.Value)
}

func TestResolve_ProducerErrorPropagates(t *testing.T) {
	errProvider := errors.New("results file missing")
	a := New(store.NewMemoryStore(), 0)

	_, err := Resolve(context.Background(), a, "results-all", Options{}, func(context.Context) (any, error) {
		return nil, errProvider
	})
	require.ErrorIs(t, err, errProvider)

	sess, _ := a.Store().Acquire(context.Background())
	defer sess.Release()
	assert.Equal(t, store.StatusMiss, sess.Get(context.Background(), "results-all").Status, "failures are never cached")
}

func TestResolve_StoreDownProducerError(t *testing.T) {
	a, mr := newRedisAccessor(t)
	mr.Close()
	errProvider := errors.New("provider exploded")

	_, err := Resolve(context.Background(), a, "zones", Options{}, func(context.Context) (int, error) {
		return 0, errProvider
	})
	require.ErrorIs(t, err, errProvider, "caller sees the provider error, not a cache error")
}

func TestResolve_StoreDownServesFresh(t *testing.T) {
	a, mr := newRedisAccessor(t)
	mr.Close()
	produce, calls := counter("fresh")

	res, err := Resolve(context.Background(), a, "zones", Options{}, produce)
	require.NoError(t, err)
	assert.Equal(t, OriginFresh, res.Origin)
	assert.Equal(t, "fresh", res.Value)
	assert.EqualValues(t, 1, calls.Load())
}

func TestResolve_Validation(t *testing.T) {
	a := New(store.NewMemoryStore(), 0)
	produce, calls := counter(1)

	_, err := Resolve(context.Background(), a, "", Options{}, produce)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = Resolve(context.Background(), a, "k", Options{TTL: -time.Second}, produce)
	assert.ErrorIs(t, err, ErrInvalidTTL)

	_, err = Resolve[int](context.Background(), a, "k", Options{}, nil)
	assert.ErrorIs(t, err, ErrNilProducer)

	assert.Zero(t, calls.Load())
}

func TestResolve_UndecodableEntryIsReplaced(t *testing.T) {
	a, mr := newRedisAccessor(t)
	require.NoError(t, mr.Set("zones", "not json"))
	produce, calls := counter([]zone{{ID: "1"}})

	res, err := Resolve(context.Background(), a, "zones", Options{}, produce)
	require.NoError(t, err)
	assert.Equal(t, OriginFresh, res.Origin)
	assert.EqualValues(t, 1, calls.Load())

	got, _ := mr.Get("zones")
	assert.Equal(t, `[{"id":"1","name":""}]`, got)
}

func TestAccessor_Defaults(t *testing.T) {
	var nilAccessor *Accessor
	assert.Equal(t, DefaultTTL, nilAccessor.DefaultTTL())
	assert.Nil(t, nilAccessor.Store())
	assert.Equal(t, time.Minute, New(nil, time.Minute).DefaultTTL())
	assert.Equal(t, DefaultTTL, New(nil, -1).DefaultTTL())
}
