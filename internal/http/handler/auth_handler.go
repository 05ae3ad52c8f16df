package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-session/internal/domain"
	"github.com/smallbiznis/valora-session/internal/http/middleware"
	"github.com/smallbiznis/valora-session/internal/service"
)

const healthTimeout = 2 * time.Second

// HealthCheck pings one backing dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// AuthHandler serves the account and session endpoints.
type AuthHandler struct {
	Auth   *service.AuthService
	Checks []HealthCheck
	logger *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService, logger *zap.Logger, checks ...HealthCheck) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{Auth: auth, Checks: checks, logger: logger}
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required,min=3,max=20"`
	Password string `json:"password" binding:"required,min=6,max=50"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	UserID       string `json:"userId" binding:"required"`
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutRequest struct {
	UserID      string `json:"userId" binding:"required"`
	AccessToken string `json:"accessToken"`
}

// Register creates an account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	user, err := h.Auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Login exchanges credentials for a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	pair, err := h.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Refresh rotates the caller's token pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	pair, err := h.Auth.Refresh(c.Request.Context(), req.UserID, req.RefreshToken)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout revokes the access token and the stored refresh token. The access
// token may come from the body or the Authorization header.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		token, _ = middleware.BearerToken(c.Request)
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "userId and accessToken required."})
		return
	}

	if err := h.Auth.Logout(c.Request.Context(), req.UserID, token); err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me returns the profile of the authenticated caller.
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "No token provided."})
		return
	}

	profile, err := h.Auth.Profile(c.Request.Context(), identity.ID)
	if err != nil {
		h.respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Healthz pings every registered dependency.
func (h *AuthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	failures := gin.H{}
	for _, check := range h.Checks {
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", check.Name), zap.Error(err))
			failures[check.Name] = "unavailable"
		}
	}
	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandler) respondAuthError(c *gin.Context, err error) {
	_ = c.Error(err)

	var authErr *service.AuthError
	switch {
	case errors.As(err, &authErr):
		if authErr.Status >= http.StatusInternalServerError {
			h.logger.Error("auth request failed", zap.String("code", authErr.Code), zap.Error(err))
		}
		c.JSON(authErr.Status, gin.H{"error": authErr.Code, "error_description": authErr.Description})
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.Error("session store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable", "error_description": "Session store unavailable."})
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "Token expired or invalid."})
	default:
		h.logger.Error("auth service failure", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}
