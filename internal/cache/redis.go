package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisClient is the subset of *redis.Client the store uses
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore caches values in Redis under "{prefix}:{hash}" with a TTL
type RedisStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to addr and verifies the connection
func NewRedisStore(ctx context.Context, addr, prefix string, ttlDays int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", addr, err)
	}
	log.Printf("[Cache] Connected to Redis at %s", addr)
	return newRedisStore(client, prefix, ttlDays), nil
}

func newRedisStore(client redisClient, prefix string, ttlDays int) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    time.Duration(ttlDays) * 24 * time.Hour,
	}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + ":" + HashKey(key)
}

// Get retrieves a value; a Redis error is logged and treated as a miss
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[Cache] Redis get failed: %v", err)
		}
		return nil, false
	}
	return data, true
}

// Set stores a value with the configured TTL
func (r *RedisStore) Set(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, r.key(key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
