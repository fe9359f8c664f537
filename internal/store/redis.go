package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a pooled go-redis client. Each
// Acquire takes a dedicated connection from the pool and Release hands it
// back.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStoreFromURL parses a redis:// or rediss:// URL and builds the pool.
// No connection is made until the first session is used.
func NewRedisStoreFromURL(rawURL string, opts Options) (*RedisStore, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url %q: %w", redactURL(rawURL), err)
	}
	if opts.PoolSize > 0 {
		ropts.PoolSize = opts.PoolSize
	}
	if opts.DialTimeout > 0 {
		ropts.DialTimeout = opts.DialTimeout
	}
	if opts.OpTimeout > 0 {
		ropts.ReadTimeout = opts.OpTimeout
		ropts.WriteTimeout = opts.OpTimeout
	}
	return NewRedisStoreFromClient(redis.NewClient(ropts), opts.OpTimeout), nil
}

// NewRedisStoreFromClient wraps an existing client. opTimeout bounds every
// session call; zero leaves the caller's context deadline in charge.
func NewRedisStoreFromClient(client *redis.Client, opTimeout time.Duration) *RedisStore {
	return &RedisStore{client: client, opTimeout: opTimeout}
}

// Client returns the underlying Redis client for direct access
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Acquire(_ context.Context) (Session, error) {
	return &redisSession{conn: s.client.Conn(), opTimeout: s.opTimeout}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisSession struct {
	conn      *redis.Conn
	opTimeout time.Duration
}

func (rs *redisSession) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if rs.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, rs.opTimeout)
}

// Get reads the value and its TTL in a single round trip.
func (rs *redisSession) Get(ctx context.Context, key string) Lookup {
	ctx, cancel := rs.withTimeout(ctx)
	defer cancel()

	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	_, err := rs.conn.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		ttlCmd = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Unavailable(fmt.Errorf("redis get %q: %w", key, err))
	}

	value, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Miss()
	}
	if err != nil {
		return Unavailable(fmt.Errorf("redis get %q: %w", key, err))
	}

	// TTL reports -1 for keys without expiry and -2 for missing keys; the
	// key may also expire between GET and TTL.
	ttl, err := ttlCmd.Result()
	if err != nil || ttl < 0 {
		return Hit(value, 0, false)
	}
	return Hit(value, ttl, true)
}

func (rs *redisSession) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := rs.withTimeout(ctx)
	defer cancel()

	if err := rs.conn.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (rs *redisSession) Release() error {
	return rs.conn.Close()
}
