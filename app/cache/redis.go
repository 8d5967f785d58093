package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "mp:webhook:"
	processedMarker = "processed"
	DefaultDedupTTL = 24 * time.Hour
)

// Deduplicator remembers webhook deliveries that were already processed.
type Deduplicator interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

type redisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type RedisDeduplicator struct {
	client redisCommands
	ttl    time.Duration
}

func NewRedisDeduplicator(addr string, password string, db int, ttl time.Duration) *RedisDeduplicator {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return newRedisDeduplicator(rdb, ttl)
}

func newRedisDeduplicator(client redisCommands, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) Seen(ctx context.Context, key string) (bool, error) {
	value, err := d.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis GET error: %w", err)
	}

	return value == processedMarker, nil
}

// Remember marks key as processed. An existing marker is left untouched so
// its original expiry is kept.
func (d *RedisDeduplicator) Remember(ctx context.Context, key string) error {
	if err := d.client.SetNX(ctx, keyPrefix+key, processedMarker, d.ttl).Err(); err != nil {
		return fmt.Errorf("redis SETNX error: %w", err)
	}
	return nil
}

func (d *RedisDeduplicator) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}

// NoopDeduplicator is used when no Redis address is configured.
type NoopDeduplicator struct{}

func (NoopDeduplicator) Seen(context.Context, string) (bool, error) { return false, nil }

func (NoopDeduplicator) Remember(context.Context, string) error { return nil }
