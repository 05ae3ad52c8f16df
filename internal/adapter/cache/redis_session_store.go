package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/valora-session/internal/domain"
	"github.com/smallbiznis/valora-session/internal/repository"
)

// RedisSessionStore implements SessionStore backed by Redis.
type RedisSessionStore struct {
	client redis.UniversalClient
}

var _ repository.SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore constructs a Redis-backed session store.
func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// SetWithTTL stores value under key and lets Redis expire it after ttl.
func (s *RedisSessionStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("set %s: non-positive ttl %s", describeKey(key), ttl)
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w: %v", describeKey(key), domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the value under key; ok is false when the key is absent or expired.
func (s *RedisSessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w: %v", describeKey(key), domain.ErrStoreUnavailable, err)
	}
	return value, true, nil
}

// Delete removes key. Removing a missing key is not an error.
func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete %s: %w: %v", describeKey(key), domain.ErrStoreUnavailable, err)
	}
	return nil
}

// describeKey keeps raw tokens out of error messages and logs.
func describeKey(key string) string {
	if len(key) > 3 && key[:3] == "bl_" {
		return "blacklist entry"
	}
	return "refresh token"
}
