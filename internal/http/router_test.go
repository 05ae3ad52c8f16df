package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-session/internal/adapter/cache"
	"github.com/smallbiznis/valora-session/internal/config"
	"github.com/smallbiznis/valora-session/internal/domain"
	httptransport "github.com/smallbiznis/valora-session/internal/http"
	"github.com/smallbiznis/valora-session/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/valora-session/internal/http/middleware"
	"github.com/smallbiznis/valora-session/internal/jwt"
	"github.com/smallbiznis/valora-session/internal/middleware"
	"github.com/smallbiznis/valora-session/internal/service"
)

type testServer struct {
	engine *gin.Engine
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		AccessSecret:       "access-secret-access-secret-0123456789",
		RefreshSecret:      "refresh-secret-refresh-secret-0123456789",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		TokenIssuer:        "valora-session",
		ServiceName:        "valora-session-test",
		CORSAllowedOrigins: []string{"http://localhost:5173"},
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	gen, err := jwt.NewGenerator(cfg)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	logger := zap.NewNop()
	users := cache.NewCachedUserRepository(newMemoryUserRepo(), client, time.Hour, logger)
	svc := service.NewAuthService(users, cache.NewRedisSessionStore(client), gen, node, logger)
	h := handler.NewAuthHandler(svc, logger, handler.HealthCheck{
		Name:  "redis",
		Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
	})

	engine := httptransport.NewRouter(cfg, h, httpmiddleware.NewAuth(svc), middleware.NewRateLimiter(rateLimit, time.Hour), logger)
	return &testServer{engine: engine, redis: mr}
}

func (s *testServer) do(t *testing.T, method, path string, body any, bearer string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (s *testServer) login(t *testing.T, username, password string) domain.TokenPair {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/api/users/login", gin.H{"username": username, "password": password}, "")
	require.Equal(t, http.StatusOK, code)
	return domain.TokenPair{
		AccessToken:  body["accessToken"].(string),
		RefreshToken: body["refreshToken"].(string),
		UserID:       body["userId"].(string),
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, 1000)

	code, body := s.do(t, http.MethodPost, "/api/users/register", gin.H{"username": "alice", "password": "secret1"}, "")
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "alice", body["username"])
	userID := body["userId"].(string)
	require.NotEmpty(t, userID)

	code, _ = s.do(t, http.MethodPost, "/api/users/register", gin.H{"username": "alice", "password": "secret1"}, "")
	require.Equal(t, http.StatusConflict, code)

	code, wrong := s.do(t, http.MethodPost, "/api/users/login", gin.H{"username": "alice", "password": "wrong"}, "")
	require.Equal(t, http.StatusUnauthorized, code)
	code, unknown := s.do(t, http.MethodPost, "/api/users/login", gin.H{"username": "nobody", "password": "secret1"}, "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, wrong, unknown)

	pair := s.login(t, "alice", "secret1")
	require.Equal(t, userID, pair.UserID)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	code, me := s.do(t, http.MethodGet, "/api/users/me", nil, pair.AccessToken)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "alice", me["username"])
	require.Equal(t, userID, me["userId"])

	code, rotated := s.do(t, http.MethodPost, "/api/users/refresh", gin.H{"userId": userID, "refreshToken": pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, code)
	require.NotEqual(t, pair.RefreshToken, rotated["refreshToken"])

	code, _ = s.do(t, http.MethodPost, "/api/users/refresh", gin.H{"userId": userID, "refreshToken": pair.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, code)

	code, out := s.do(t, http.MethodPost, "/api/users/logout", gin.H{"userId": userID, "accessToken": pair.AccessToken}, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Logged out successfully", out["message"])

	code, denied := s.do(t, http.MethodGet, "/api/users/me", nil, pair.AccessToken)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "Token has been logged out.", denied["error_description"])

	ttl := s.redis.TTL("bl_" + pair.AccessToken)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, 15*time.Minute)
	require.False(t, s.redis.Exists(userID))

	code, _ = s.do(t, http.MethodPost, "/api/users/refresh", gin.H{"userId": userID, "refreshToken": rotated["refreshToken"]}, "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestLogoutUsesBearerFallback(t *testing.T) {
	s := newTestServer(t, 1000)
	code, _ := s.do(t, http.MethodPost, "/api/users/register", gin.H{"username": "bob", "password": "secret1"}, "")
	require.Equal(t, http.StatusCreated, code)
	pair := s.login(t, "bob", "secret1")

	code, _ = s.do(t, http.MethodPost, "/api/users/logout", gin.H{"userId": pair.UserID}, pair.AccessToken)
	require.Equal(t, http.StatusOK, code)
	require.True(t, s.redis.Exists("bl_"+pair.AccessToken))

	code, _ = s.do(t, http.MethodPost, "/api/users/logout", gin.H{"userId": pair.UserID}, "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestGateFailures(t *testing.T) {
	s := newTestServer(t, 1000)

	code, body := s.do(t, http.MethodGet, "/api/users/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "No token provided.", body["error_description"])

	code, body = s.do(t, http.MethodGet, "/api/users/me", nil, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "Token expired or invalid.", body["error_description"])
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, 1000)

	code, body := s.do(t, http.MethodPost, "/api/users/register", gin.H{"username": "ab", "password": "secret1"}, "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "username must be at least 3 characters.", body["error_description"])

	code, body = s.do(t, http.MethodPost, "/api/users/register", gin.H{"username": "carol", "password": "123"}, "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "password must be at least 6 characters.", body["error_description"])

	code, body = s.do(t, http.MethodPost, "/api/users/login", gin.H{"username": "carol"}, "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "password is required.", body["error_description"])
}

func TestSessionStoreOutage(t *testing.T) {
	s := newTestServer(t, 1000)
	code, _ := s.do(t, http.MethodPost, "/api/users/register", gin.H{"username": "dave", "password": "secret1"}, "")
	require.Equal(t, http.StatusCreated, code)
	pair := s.login(t, "dave", "secret1")

	s.redis.Close()

	code, _ = s.do(t, http.MethodGet, "/api/users/me", nil, pair.AccessToken)
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = s.do(t, http.MethodPost, "/api/users/login", gin.H{"username": "dave", "password": "secret1"}, "")
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, body := s.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "unavailable", body["status"])
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, 1000)

	code, body := s.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	s := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		code, _ := s.do(t, http.MethodPost, "/api/users/login", gin.H{"username": "eve", "password": "secret1"}, "")
		require.Equal(t, http.StatusUnauthorized, code)
	}
	code, body := s.do(t, http.MethodPost, "/api/users/login", gin.H{"username": "eve", "password": "secret1"}, "")
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, "rate_limited", body["error"])

	code, _ = s.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, code)
}

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: map[int64]domain.User{}}
}

func (m *memoryUserRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, fmt.Errorf("get user: %w", domain.ErrNotFound)
}

func (m *memoryUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return domain.User{}, fmt.Errorf("get user by id: %w", domain.ErrNotFound)
}

func (m *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username {
			return domain.User{}, fmt.Errorf("create user: %w", domain.ErrConflict)
		}
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) UpdatePasswordHash(ctx context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("no such user")
	}
	u.PasswordHash = hash
	m.users[userID] = u
	return nil
}

func TestLogoutRejectsCraftedUserID(t *testing.T) {
	s := newTestServer(t, 1000)
	code, _ := s.do(t, http.MethodPost, "/api/users/register", gin.H{"username": "frank", "password": "secret1"}, "")
	require.Equal(t, http.StatusCreated, code)
	pair := s.login(t, "frank", "secret1")

	code, _ = s.do(t, http.MethodPost, "/api/users/logout", gin.H{"userId": pair.UserID, "accessToken": pair.AccessToken}, "")
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodPost, "/api/users/logout", gin.H{"userId": "bl_" + pair.AccessToken, "accessToken": "x"}, "")
	require.Equal(t, http.StatusBadRequest, code)
	require.True(t, s.redis.Exists("bl_"+pair.AccessToken))

	code, body := s.do(t, http.MethodGet, "/api/users/me", nil, pair.AccessToken)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "Token has been logged out.", body["error_description"])

	code, _ = s.do(t, http.MethodPost, "/api/users/refresh", gin.H{"userId": "bl_" + pair.AccessToken, "refreshToken": "true"}, "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestRegisterRejectsPaddedShortUsername(t *testing.T) {
	s := newTestServer(t, 1000)

	code, _ := s.do(t, http.MethodPost, "/api/users/register", gin.H{"username": "  ab  ", "password": "secret1"}, "")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/users/login", gin.H{"username": "ab", "password": "secret1"}, "")
	require.Equal(t, http.StatusUnauthorized, code)
}
