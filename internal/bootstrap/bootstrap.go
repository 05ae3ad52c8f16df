package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-session/internal/config"
	"github.com/smallbiznis/valora-session/internal/domain"
	"github.com/smallbiznis/valora-session/internal/repository"
	"github.com/smallbiznis/valora-session/internal/service"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type registrar interface {
	Register(ctx context.Context, username, password string) (service.UserViewModel, error)
}

// EnsureSchema creates the users table on start if it does not exist yet.
func EnsureSchema(lc fx.Lifecycle, pool *pgxpool.Pool, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ApplySchema(ctx, pool, logger)
		},
	})
}

// ApplySchema runs the idempotent DDL.
func ApplySchema(ctx context.Context, db execer, logger *zap.Logger) error {
	if _, err := db.Exec(ctx, repository.CreateUsersTableSQL); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	if logger != nil {
		logger.Debug("bootstrap schema applied")
	}
	return nil
}

// EnsureSeedUser registers the configured seed account for dev/e2e if missing.
func EnsureSeedUser(lc fx.Lifecycle, cfg config.Config, auth *service.AuthService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return SeedUser(ctx, cfg, auth, logger)
		},
	})
}

// SeedUser creates SEED_USERNAME unless it is unset or already taken.
func SeedUser(ctx context.Context, cfg config.Config, auth registrar, logger *zap.Logger) error {
	username := strings.TrimSpace(cfg.SeedUsername)
	if username == "" || cfg.SeedPassword == "" {
		return nil
	}

	created, err := auth.Register(ctx, username, cfg.SeedPassword)
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap seed user: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap seed user created",
			zap.String("username", created.Username),
			zap.String("user_id", created.UserID),
		)
	}
	return nil
}
