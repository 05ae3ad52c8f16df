package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-session/internal/domain"
	"github.com/smallbiznis/valora-session/internal/repository"
)

// CachedUserRepository is a read-through Redis cache in front of a
// UserRepository. The cache is never the system of record: every cache
// failure is logged and the call falls through to the wrapped repository.
type CachedUserRepository struct {
	next   repository.UserRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

var _ repository.UserRepository = (*CachedUserRepository)(nil)

// NewCachedUserRepository wraps next. A zero ttl disables caching.
func NewCachedUserRepository(next repository.UserRepository, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) repository.UserRepository {
	if ttl <= 0 || client == nil {
		return next
	}
	if logger == nil {
		logger = zap.L()
	}
	return &CachedUserRepository{next: next, client: client, ttl: ttl, logger: logger}
}

func userIDKey(id int64) string {
	return "user:" + strconv.FormatInt(id, 10)
}

func usernameKey(username string) string {
	return "user:username:" + username
}

func (r *CachedUserRepository) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	if user, ok := r.load(ctx, usernameKey(username)); ok {
		return user, nil
	}
	user, err := r.next.GetByUsername(ctx, username)
	if err != nil {
		return domain.User{}, err
	}
	r.store(ctx, user)
	return user, nil
}

// GetByID serves from cache unless ctx carries repository.WithFreshRead. A
// fresh read that finds nothing evicts the stale entry.
func (r *CachedUserRepository) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	fresh := repository.FreshReadRequested(ctx)
	if !fresh {
		if user, ok := r.load(ctx, userIDKey(userID)); ok {
			return user, nil
		}
	}
	user, err := r.next.GetByID(ctx, userID)
	if err != nil {
		if fresh && errors.Is(err, domain.ErrNotFound) {
			r.invalidate(ctx, userID)
		}
		return domain.User{}, err
	}
	r.store(ctx, user)
	return user, nil
}

func (r *CachedUserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	created, err := r.next.Create(ctx, user)
	if err != nil {
		return domain.User{}, err
	}
	r.store(ctx, created)
	return created, nil
}

func (r *CachedUserRepository) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	if err := r.next.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

func (r *CachedUserRepository) load(ctx context.Context, key string) (domain.User, bool) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("user cache read failed", zap.String("key", key), zap.Error(err))
		}
		return domain.User{}, false
	}
	var user domain.User
	if err := json.Unmarshal(payload, &user); err != nil {
		r.logger.Warn("user cache entry corrupt", zap.String("key", key), zap.Error(err))
		return domain.User{}, false
	}
	return user, true
}

func (r *CachedUserRepository) store(ctx context.Context, user domain.User) {
	payload, err := json.Marshal(user)
	if err != nil {
		r.logger.Warn("user cache encode failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, userIDKey(user.ID), payload, r.ttl)
		p.Set(ctx, usernameKey(user.Username), payload, r.ttl)
		return nil
	})
	if err != nil {
		r.logger.Warn("user cache write failed", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

func (r *CachedUserRepository) invalidate(ctx context.Context, userID int64) {
	key := userIDKey(userID)
	user, ok := r.load(ctx, key)
	keys := []string{key}
	if ok {
		keys = append(keys, usernameKey(user.Username))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn("user cache invalidate failed", zap.Int64("user_id", userID), zap.Error(fmt.Errorf("del: %w", err)))
	}
}
