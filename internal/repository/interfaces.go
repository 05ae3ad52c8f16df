package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/valora-session/internal/domain"
)

// UserRepository exposes persistence for login credentials.
// Lookups that match nothing return domain.ErrNotFound; Create returns
// domain.ErrConflict when the username is taken.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	UpdatePasswordHash(ctx context.Context, userID int64, hash string) error
}

// SessionStore is the key-value store holding refresh tokens and access-token
// revocation markers. Connectivity failures wrap domain.ErrStoreUnavailable.
type SessionStore interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

const blacklistPrefix = "bl_"

type freshReadKey struct{}

// WithFreshRead asks caching decorators to skip cached rows for calls made
// with the returned context.
func WithFreshRead(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshReadKey{}, true)
}

// FreshReadRequested reports whether ctx came from WithFreshRead.
func FreshReadRequested(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshReadKey{}).(bool)
	return fresh
}

// RefreshKey is the session-store key holding the user's current refresh token.
func RefreshKey(userID string) string {
	return userID
}

// BlacklistKey is the session-store key marking an access token as revoked.
func BlacklistKey(accessToken string) string {
	return blacklistPrefix + accessToken
}
