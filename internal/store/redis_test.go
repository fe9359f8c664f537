package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStoreFromURL("redis://"+mr.Addr()+"/0", Options{OpTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_MissThenHit(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	sess, err := s.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusMiss, sess.Get(ctx, "results-all").Status)
	require.NoError(t, sess.Set(ctx, "results-all", []byte(`{"a":1}`), time.Hour))
	require.NoError(t, sess.Release())

	assert.Equal(t, time.Hour, mr.TTL("results-all"))

	sess, err = s.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()
	l := sess.Get(ctx, "results-all")
	require.Equal(t, StatusHit, l.Status)
	assert.Equal(t, `{"a":1}`, string(l.Value))
	assert.True(t, l.HasTTL)
	assert.Equal(t, time.Hour, l.TTL)
}

func TestRedisStore_TTLDecreases(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()
	sess, _ := s.Acquire(ctx)
	defer sess.Release()

	require.NoError(t, sess.Set(ctx, "zones", []byte(`[]`), time.Hour))
	mr.FastForward(10 * time.Minute)

	l := sess.Get(ctx, "zones")
	require.Equal(t, StatusHit, l.Status)
	assert.Equal(t, 50*time.Minute, l.TTL)
}

func TestRedisStore_KeyWithoutExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set("zones", `[]`))

	ctx := context.Background()
	sess, _ := s.Acquire(ctx)
	defer sess.Release()

	l := sess.Get(ctx, "zones")
	require.Equal(t, StatusHit, l.Status)
	assert.False(t, l.HasTTL)
}

func TestRedisStore_ServerDown(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	ctx := context.Background()
	sess, err := s.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Release()

	l := sess.Get(ctx, "zones")
	assert.Equal(t, StatusUnavailable, l.Status)
	assert.Error(t, l.Err)
	assert.Error(t, sess.Set(ctx, "zones", []byte(`[]`), time.Hour))
	assert.Error(t, s.Ping(ctx))
}

func TestRedisStore_FromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, 0)
	defer s.Close()

	assert.Same(t, client, s.Client())
	require.NoError(t, s.Ping(context.Background()))
}
