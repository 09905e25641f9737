package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/platform/cache"
)

// RedisStore is a Redis-backed Store. Keys live under the cache prefix and
// never expire.
type RedisStore struct {
	cache *cache.Cache
}

// NewRedisStore wraps an open cache client.
func NewRedisStore(c *cache.Cache) (*RedisStore, error) {
	if c == nil || c.Client == nil {
		return nil, fmt.Errorf("cache client is nil")
	}
	return &RedisStore{cache: c}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.cache.Client.Get(ctx, s.cache.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.cache.Client.Set(ctx, s.cache.Key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.cache.Client.Del(ctx, s.cache.Key(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.cache.HealthCheck(ctx)
}

func (s *RedisStore) Close() error {
	return s.cache.Close()
}
