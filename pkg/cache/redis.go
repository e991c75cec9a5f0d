package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "routegate:cache:"

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisBackend stores cache entries as Redis strings with native expiry.
// Expired keys are removed by Redis itself and size is bounded by the
// server's maxmemory policy, so DeleteExpired and EvictLRU are no-ops.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
	addr   string
}

type redisEntry struct {
	Payload   []byte    `json:"payload"`
	Backend   string    `json:"backend"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OpenRedis connects to Redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBackend(rdb, opts.Prefix), nil
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(rdb *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix, addr: rdb.Options().Addr}
}

// Get returns the entry for key, or nil.
func (b *RedisBackend) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := b.rdb.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var re redisEntry
	if err := json.Unmarshal(data, &re); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &Entry{
		Key:          key,
		Payload:      re.Payload,
		Backend:      re.Backend,
		CreatedAt:    re.CreatedAt,
		ExpiresAt:    re.ExpiresAt,
		LastAccessed: time.Now(),
	}, nil
}

// Put upserts an entry with a Redis TTL matching its expiry.
func (b *RedisBackend) Put(ctx context.Context, e Entry) error {
	ttl := e.ExpiresAt.Sub(e.CreatedAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(redisEntry{
		Payload:   e.Payload,
		Backend:   e.Backend,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return b.rdb.Set(ctx, b.prefix+e.Key, data, ttl).Err()
}

// Delete removes key.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, b.prefix+key).Err()
}

// DeleteExpiredKey removes key under WATCH if the stored entry expired
// before now. A write that lands first aborts the delete.
func (b *RedisBackend) DeleteExpiredKey(ctx context.Context, key string, now time.Time) (bool, error) {
	k := b.prefix + key
	deleted := false
	err := b.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var re redisEntry
		if err := json.Unmarshal(data, &re); err != nil {
			return fmt.Errorf("decoding cache entry: %w", err)
		}
		if !now.After(re.ExpiresAt) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return deleted, err
}

// Touch is a no-op; Redis tracks access recency for its own LRU.
func (b *RedisBackend) Touch(context.Context, string, time.Time) error {
	return nil
}

// DeleteExpired is a no-op; Redis expires keys natively.
func (b *RedisBackend) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// EvictLRU is a no-op; configure maxmemory-policy allkeys-lru on the server.
func (b *RedisBackend) EvictLRU(context.Context, int64) (int, error) {
	return 0, nil
}

// Stats scans the key prefix and sums value lengths.
func (b *RedisBackend) Stats(ctx context.Context, _ time.Time) (Stats, error) {
	st := Stats{Location: "redis://" + b.addr}
	keys, err := b.keys(ctx)
	if err != nil {
		return st, err
	}
	if len(keys) == 0 {
		return st, nil
	}

	pipe := b.rdb.Pipeline()
	lens := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		lens[i] = pipe.StrLen(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return st, err
	}
	for _, cmd := range lens {
		if n := cmd.Val(); n > 0 {
			st.Entries++
			st.SizeBytes += n
		}
	}
	return st, nil
}

// Clear deletes every key under the prefix.
func (b *RedisBackend) Clear(ctx context.Context) (int, error) {
	keys, err := b.keys(ctx)
	if err != nil || len(keys) == 0 {
		return 0, err
	}
	n, err := b.rdb.Del(ctx, keys...).Result()
	return int(n), err
}

func (b *RedisBackend) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := b.rdb.Scan(ctx, 0, b.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Ping checks the connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Location returns the server address.
func (b *RedisBackend) Location() string {
	return "redis://" + b.addr
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
