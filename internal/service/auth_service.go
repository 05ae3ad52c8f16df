package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-session/internal/domain"
	"github.com/smallbiznis/valora-session/internal/jwt"
	pw "github.com/smallbiznis/valora-session/internal/password"
	"github.com/smallbiznis/valora-session/internal/repository"
)

const (
	blacklistSentinel = "true"
	minUsernameLen    = 3
	maxUsernameLen    = 20
)

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// AuthService implements register, login, refresh and logout. It keeps no
// state of its own: credentials live in the user repository, refresh tokens
// and revocation markers in the session store.
type AuthService struct {
	users     repository.UserRepository
	sessions  repository.SessionStore
	jwt       *jwt.Generator
	snowflake *snowflake.Node
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(users repository.UserRepository, sessions repository.SessionStore, generator *jwt.Generator, node *snowflake.Node, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		sessions:  sessions,
		jwt:       generator,
		snowflake: node,
		logger:    logger,
		tracer:    otel.Tracer("github.com/smallbiznis/valora-session/internal/service"),
	}
}

// Register creates a new account. The username must not be taken.
func (s *AuthService) Register(ctx context.Context, username, password string) (UserViewModel, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return UserViewModel{}, errInvalidRequest("Username and password are required.")
	}
	if n := utf8.RuneCountInString(normalized); n < minUsernameLen || n > maxUsernameLen {
		return UserViewModel{}, errInvalidRequest(fmt.Sprintf("username must be %d to %d characters.", minUsernameLen, maxUsernameLen))
	}

	if _, err := s.users.GetByUsername(ctx, normalized); err == nil {
		return UserViewModel{}, errConflict()
	} else if !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return UserViewModel{}, fmt.Errorf("check existing user: %w", err)
	}

	hashed, err := pw.Hash(password)
	if err != nil {
		span.RecordError(err)
		return UserViewModel{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.users.Create(ctx, domain.User{
		ID:           s.snowflake.Generate().Int64(),
		Username:     normalized,
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return UserViewModel{}, errConflict()
		}
		span.RecordError(err)
		return UserViewModel{}, fmt.Errorf("create user: %w", err)
	}

	s.audit("register.success", "user_id", created.ID)
	return newUserViewModel(created), nil
}

// Login checks the credentials and issues a fresh token pair. Unknown users
// and wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, username, password string) (domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.users.GetByUsername(ctx, normalizeUsername(username))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
			return domain.TokenPair{}, fmt.Errorf("login lookup user: %w", err)
		}
		// Burn the same hashing time as a real comparison.
		_, _ = pw.Verify(password, fallbackHash())
		s.audit("login.failure", "reason", "unknown_user")
		return domain.TokenPair{}, errInvalidCredentials()
	}

	valid, err := pw.Verify(password, user.PasswordHash)
	if err != nil || !valid {
		s.audit("login.failure", "reason", "password_mismatch", "user_id", user.ID)
		return domain.TokenPair{}, errInvalidCredentials()
	}

	if pw.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	pair, err := s.issueSession(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}
	s.audit("login.success", "user_id", user.ID)
	return pair, nil
}

// Refresh exchanges the user's current refresh token for a new pair. The
// presented token must equal the stored one, so a superseded token fails even
// while its signature is still valid.
func (s *AuthService) Refresh(ctx context.Context, userID, refreshToken string) (domain.TokenPair, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	id, ok := parseUserID(userID)
	if !ok || refreshToken == "" {
		return domain.TokenPair{}, errInvalidRefresh()
	}
	userID = strconv.FormatInt(id, 10)

	stored, ok, err := s.sessions.Get(ctx, repository.RefreshKey(userID))
	if err != nil {
		span.RecordError(err)
		s.log().Error("refresh token lookup failed", zap.String("user_id", userID), zap.Error(err))
		return domain.TokenPair{}, errStoreUnavailable(err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return domain.TokenPair{}, errInvalidRefresh()
	}

	claims, err := s.jwt.VerifyRefresh(refreshToken)
	if err != nil || claims.Subject != userID {
		if err != nil {
			span.RecordError(err)
		}
		return domain.TokenPair{}, errInvalidRefresh()
	}

	// The account may have been removed since the token was issued.
	user, err := s.users.GetByID(repository.WithFreshRead(ctx), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TokenPair{}, errUserGone()
		}
		span.RecordError(err)
		return domain.TokenPair{}, fmt.Errorf("refresh load user: %w", err)
	}

	pair, err := s.issueSession(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.TokenPair{}, err
	}
	s.audit("refresh.success", "user_id", user.ID)
	return pair, nil
}

// Logout revokes the access token for the rest of its lifetime and drops the
// stored refresh token. Repeating the call is harmless.
func (s *AuthService) Logout(ctx context.Context, userID, accessToken string) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	if strings.TrimSpace(userID) == "" || accessToken == "" {
		return errInvalidRequest("userId and accessToken required.")
	}
	id, ok := parseUserID(userID)
	if !ok {
		return errInvalidRequest("userId is invalid.")
	}
	userID = strconv.FormatInt(id, 10)

	if ttl := s.remainingLifetime(accessToken); ttl > 0 {
		if err := s.sessions.SetWithTTL(ctx, repository.BlacklistKey(accessToken), blacklistSentinel, ttl); err != nil {
			span.RecordError(err)
			s.log().Error("blacklist access token failed", zap.String("user_id", userID), zap.Error(err))
			return errStoreUnavailable(err)
		}
	}

	if err := s.sessions.Delete(ctx, repository.RefreshKey(userID)); err != nil {
		span.RecordError(err)
		s.log().Error("delete refresh token failed", zap.String("user_id", userID), zap.Error(err))
		return errStoreUnavailable(err)
	}

	s.audit("logout.success", "user_id", userID)
	return nil
}

// Authenticate runs the per-request checks: the token must not be
// blacklisted and must verify against the access secret.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*domain.Claims, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Authenticate")
	defer span.End()

	_, revoked, err := s.sessions.Get(ctx, repository.BlacklistKey(accessToken))
	if err != nil {
		span.RecordError(err)
		s.log().Error("blacklist lookup failed", zap.Error(err))
		return nil, errStoreUnavailable(err)
	}
	if revoked {
		return nil, domain.ErrTokenRevoked
	}

	claims, err := s.jwt.VerifyAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	return claims, nil
}

// Profile loads the account behind an authenticated identity.
func (s *AuthService) Profile(ctx context.Context, userID string) (UserViewModel, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Profile")
	defer span.End()

	id, ok := parseUserID(userID)
	if !ok {
		return UserViewModel{}, errUserGone()
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return UserViewModel{}, errUserGone()
		}
		span.RecordError(err)
		return UserViewModel{}, fmt.Errorf("profile load user: %w", err)
	}
	return newUserViewModel(user), nil
}

// issueSession signs a new pair and makes its refresh token the only valid
// one for the user.
func (s *AuthService) issueSession(ctx context.Context, user domain.User) (domain.TokenPair, error) {
	userID := strconv.FormatInt(user.ID, 10)
	pair, err := s.jwt.Issue(userID, user.Username)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := s.sessions.SetWithTTL(ctx, repository.RefreshKey(userID), pair.RefreshToken, s.jwt.RefreshTTL()); err != nil {
		s.log().Error("store refresh token failed", zap.String("user_id", userID), zap.Error(err))
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return domain.TokenPair{}, errStoreUnavailable(err)
		}
		return domain.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// remainingLifetime is the whole-second time left before accessToken expires.
// Tokens whose expiry cannot be read get a full access-token lifetime.
func (s *AuthService) remainingLifetime(accessToken string) time.Duration {
	claims, ok := s.jwt.DecodeUnsafe(accessToken)
	if !ok || claims.ExpiresAt.IsZero() {
		return s.jwt.AccessTTL()
	}
	seconds := claims.ExpiresAt.Unix() - s.jwt.Now().Unix()
	return time.Duration(seconds) * time.Second
}

func (s *AuthService) upgradeHash(ctx context.Context, user domain.User, password string) {
	hashed, err := pw.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hashed)
	}
	if err != nil {
		s.log().Warn("password rehash failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return
	}
	s.audit("password.rehash", "user_id", user.ID)
}

// parseUserID accepts only positive snowflake ids. Session-store keys are built
// from the result, never from raw client input.
func parseUserID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

func fallbackHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = pw.Hash("valora-session-unknown-user")
	})
	return dummyHash
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) audit(event string, attrs ...any) {
	logger := s.log()
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
