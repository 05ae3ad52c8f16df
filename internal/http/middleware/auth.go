package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/valora-session/internal/domain"
	"github.com/smallbiznis/valora-session/internal/service"
)

const identityKey = "identity"

type identityCtxKey struct{}

// Auth validates the Authorization header and attaches the caller identity.
type Auth struct {
	AuthService *service.AuthService
}

// NewAuth wires the request gate.
func NewAuth(svc *service.AuthService) *Auth {
	return &Auth{AuthService: svc}
}

// ValidateJWT admits a request only when it carries a non-revoked, valid
// bearer token.
func (m *Auth) ValidateJWT(c *gin.Context) {
	token, ok := BearerToken(c.Request)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "No token provided."})
		return
	}

	claims, err := m.AuthService.Authenticate(c.Request.Context(), token)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStoreUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable", "error_description": "Session store unavailable."})
		return
	case errors.Is(err, domain.ErrTokenRevoked):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "Token has been logged out."})
		return
	default:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "Token expired or invalid."})
		return
	}

	identity := claims.Identity()
	c.Set(identityKey, identity)
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), identity))
	c.Next()
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetIdentity returns the identity attached by ValidateJWT.
func GetIdentity(c *gin.Context) (domain.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

// WithIdentity stores identity on ctx for code below the HTTP layer.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, identity)
}

// IdentityFromContext reads the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityCtxKey{}).(domain.Identity)
	return identity, ok
}
