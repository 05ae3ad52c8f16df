package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/valora-session/internal/adapter/cache"
	"github.com/smallbiznis/valora-session/internal/bootstrap"
	"github.com/smallbiznis/valora-session/internal/config"
	httptransport "github.com/smallbiznis/valora-session/internal/http"
	"github.com/smallbiznis/valora-session/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/valora-session/internal/http/middleware"
	"github.com/smallbiznis/valora-session/internal/jwt"
	apimiddleware "github.com/smallbiznis/valora-session/internal/middleware"
	"github.com/smallbiznis/valora-session/internal/repository"
	"github.com/smallbiznis/valora-session/internal/server"
	"github.com/smallbiznis/valora-session/internal/service"
	"github.com/smallbiznis/valora-session/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newRedisClient,
			newUserRepository,
			newSessionStore,
			newRateLimiter,
			newTokenGenerator,
			service.NewAuthService,
			newAuthHandler,
			httpmiddleware.NewAuth,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSchema, bootstrap.EnsureSeedUser, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

// newRedisClient opens the one shared client. A failed ping is logged rather
// than fatal; requests that need the store answer 503 until it is reachable.
func newRedisClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) redis.UniversalClient {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func newUserRepository(pool *pgxpool.Pool, client redis.UniversalClient, cfg config.Config, logger *zap.Logger) repository.UserRepository {
	return cacheadapter.NewCachedUserRepository(repository.NewPostgresUserRepo(pool), client, cfg.UserCacheTTL, logger)
}

func newSessionStore(client redis.UniversalClient) repository.SessionStore {
	return cacheadapter.NewRedisSessionStore(client)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
}

func newTokenGenerator(cfg config.Config) (*jwt.Generator, error) {
	return jwt.NewGenerator(cfg)
}

func newAuthHandler(auth *service.AuthService, logger *zap.Logger, pool *pgxpool.Pool, client redis.UniversalClient) *handler.AuthHandler {
	return handler.NewAuthHandler(auth, logger,
		handler.HealthCheck{Name: "postgres", Check: pool.Ping},
		handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}},
	)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
