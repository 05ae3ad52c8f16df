package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/valora-session/internal/config"
)

const (
	accessSecret  = "access-secret-access-secret-0123456789"
	refreshSecret = "refresh-secret-refresh-secret-0123456789"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", accessSecret)
	t.Setenv("JWT_REFRESH_SECRET", refreshSecret)
	t.Setenv("DATABASE_URL", "postgres://localhost/session")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, "valora-session", cfg.TokenIssuer)
	require.Equal(t, 100, cfg.RateLimitMax)
	require.Empty(t, cfg.TrustedProxies)
	require.Equal(t, time.Hour, cfg.UserCacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("REFRESH_TOKEN_TTL", "not-a-duration")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("TOKEN_ISSUER", "issuer-x")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, "issuer-x", cfg.TokenIssuer)
	require.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.TrustedProxies)
}

func TestLoadRequiresSecrets(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_ACCESS_SECRET", "")

	_, err := config.Load()
	require.ErrorContains(t, err, "JWT_ACCESS_SECRET")
}

func TestValidateRejectsWeakOrSharedSecrets(t *testing.T) {
	base := config.Config{
		AccessSecret:    accessSecret,
		RefreshSecret:   refreshSecret,
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		DatabaseURL:     "postgres://localhost/session",
	}
	require.NoError(t, base.Validate())

	short := base
	short.RefreshSecret = "short"
	require.Error(t, short.Validate())

	shared := base
	shared.RefreshSecret = shared.AccessSecret
	require.Error(t, shared.Validate())

	seed := base
	seed.SeedUsername = "admin"
	require.Error(t, seed.Validate())
}
