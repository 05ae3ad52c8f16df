package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-session/internal/config"
	"github.com/smallbiznis/valora-session/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/valora-session/internal/http/middleware"
	"github.com/smallbiznis/valora-session/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	handler.RegisterValidator()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	throttle := rateLimiter.Handler()

	users := r.Group("/api/users")
	{
		users.POST("/register", throttle, authHandler.Register)
		users.POST("/login", throttle, authHandler.Login)
		users.POST("/refresh", throttle, authHandler.Refresh)
		users.POST("/logout", throttle, authHandler.Logout)
		users.GET("/me", authMiddleware.ValidateJWT, authHandler.Me)
	}

	r.GET("/healthz", authHandler.Healthz)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Route not found."})
	})

	return r
}
