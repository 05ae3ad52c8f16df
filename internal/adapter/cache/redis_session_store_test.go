package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/valora-session/internal/adapter/cache"
	"github.com/smallbiznis/valora-session/internal/domain"
	"github.com/smallbiznis/valora-session/internal/repository"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSessionStoreSetGetExpire(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	store := cache.NewRedisSessionStore(client)

	require.NoError(t, store.SetWithTTL(ctx, repository.RefreshKey("42"), "refresh-token", 7*24*time.Hour))

	value, ok, err := store.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "refresh-token", value)
	require.Equal(t, 7*24*time.Hour, mr.TTL("42"))

	mr.FastForward(7*24*time.Hour + time.Second)
	_, ok, err = store.Get(ctx, "42")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisSessionStoreBlacklistKey(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	store := cache.NewRedisSessionStore(client)

	require.NoError(t, store.SetWithTTL(ctx, repository.BlacklistKey("abc"), "true", 90*time.Second))
	require.True(t, mr.Exists("bl_abc"))
	require.Equal(t, 90*time.Second, mr.TTL("bl_abc"))
}

func TestRedisSessionStoreOverwriteAndDelete(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	store := cache.NewRedisSessionStore(client)

	require.NoError(t, store.SetWithTTL(ctx, "42", "first", time.Hour))
	require.NoError(t, store.SetWithTTL(ctx, "42", "second", time.Hour))

	value, ok, err := store.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", value)

	require.NoError(t, store.Delete(ctx, "42"))
	require.NoError(t, store.Delete(ctx, "42"))

	_, ok, err = store.Get(ctx, "42")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisSessionStoreRejectsNonPositiveTTL(t *testing.T) {
	_, client := newRedis(t)
	store := cache.NewRedisSessionStore(client)

	err := store.SetWithTTL(context.Background(), "42", "value", 0)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRedisSessionStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	store := cache.NewRedisSessionStore(client)
	mr.Close()

	err := store.SetWithTTL(ctx, "42", "value", time.Minute)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, _, err = store.Get(ctx, "42")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	err = store.Delete(ctx, "42")
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
