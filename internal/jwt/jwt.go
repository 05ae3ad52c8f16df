package jwt

import (
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/smallbiznis/valora-session/internal/config"
	"github.com/smallbiznis/valora-session/internal/domain"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

var allowedAlgorithms = []gojose.SignatureAlgorithm{gojose.HS256}

// Generator signs and validates access and refresh tokens. Each kind has its
// own secret and lifetime.
type Generator struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock replaces the wall clock used for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator constructs a JWT generator from the signing configuration.
func NewGenerator(cfg config.Config, opts ...Option) (*Generator, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("jwt: signing secrets are required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, fmt.Errorf("jwt: token ttl must be positive")
	}
	g := &Generator{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		issuer:     cfg.TokenIssuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// tokenClaims are the private claims carried next to the registered ones.
type tokenClaims struct {
	Username string `json:"username"`
	Use      string `json:"token_use"`
}

// Now returns the generator clock reading.
func (g *Generator) Now() time.Time {
	return g.now()
}

// AccessTTL is the lifetime of freshly issued access tokens.
func (g *Generator) AccessTTL() time.Duration {
	return g.accessTTL
}

// RefreshTTL is the lifetime of freshly issued refresh tokens.
func (g *Generator) RefreshTTL() time.Duration {
	return g.refreshTTL
}

// Issue produces a signed access/refresh pair for the user.
func (g *Generator) Issue(userID, username string) (domain.TokenPair, error) {
	access, err := g.sign(g.accessKey, g.accessTTL, userID, username, useAccess)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := g.sign(g.refreshKey, g.refreshTTL, userID, username, useRefresh)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh, UserID: userID}, nil
}

// VerifyAccess checks signature, expiry and issuer of an access token.
func (g *Generator) VerifyAccess(token string) (*domain.Claims, error) {
	return g.verify(g.accessKey, token, useAccess)
}

// VerifyRefresh checks signature, expiry and issuer of a refresh token.
func (g *Generator) VerifyRefresh(token string) (*domain.Claims, error) {
	return g.verify(g.refreshKey, token, useRefresh)
}

// DecodeUnsafe reads claims without checking the signature. The result must
// never be used to authorize anything.
func (g *Generator) DecodeUnsafe(token string) (*domain.Claims, bool) {
	parsed, err := gojwt.ParseSigned(token, allowedAlgorithms)
	if err != nil {
		return nil, false
	}
	var std gojwt.Claims
	var custom tokenClaims
	if err := parsed.UnsafeClaimsWithoutVerification(&std, &custom); err != nil {
		return nil, false
	}
	return toClaims(std, custom), true
}

func (g *Generator) sign(key []byte, ttl time.Duration, userID, username, use string) (string, error) {
	signer, err := gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: key}, (&gojose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := g.now().UTC()
	std := gojwt.Claims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(ttl)),
	}
	custom := tokenClaims{Username: username, Use: use}

	token, err := gojwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

func (g *Generator) verify(key []byte, token, use string) (*domain.Claims, error) {
	parsed, err := gojwt.ParseSigned(token, allowedAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", domain.ErrInvalidToken, err)
	}

	var std gojwt.Claims
	var custom tokenClaims
	if err := parsed.Claims(key, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", domain.ErrInvalidToken, err)
	}
	if err := std.ValidateWithLeeway(gojwt.Expected{Issuer: g.issuer, Time: g.now()}, 0); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", domain.ErrInvalidToken, err)
	}
	if std.Expiry == nil || std.Subject == "" {
		return nil, fmt.Errorf("%w: missing exp or sub", domain.ErrInvalidToken)
	}
	if custom.Use != use {
		return nil, fmt.Errorf("%w: token_use %q", domain.ErrInvalidToken, custom.Use)
	}
	return toClaims(std, custom), nil
}

func toClaims(std gojwt.Claims, custom tokenClaims) *domain.Claims {
	claims := &domain.Claims{
		ID:       std.ID,
		Subject:  std.Subject,
		Username: custom.Username,
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	if std.Expiry != nil {
		claims.ExpiresAt = std.Expiry.Time()
	}
	return claims
}
