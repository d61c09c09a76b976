package router

import (
	"context"
	"net/http"
	"sort"

	"account-service/internal/adapter/gin/handler"
	"account-service/internal/adapter/gin/middleware"
	"account-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Options holds the optional pieces of the router.
type Options struct {
	ServiceName string
	Limiter     middleware.Limiter // nil disables rate limiting
	OAuthProxy  gin.HandlerFunc    // nil leaves /o/ unrouted
	Checks      map[string]func(context.Context) error
}

// SetupRouter configures and returns a Gin router with all routes and middleware
func SetupRouter(
	userHandler *handler.UserHandler,
	auth middleware.Authenticator,
	log *zap.Logger,
	opts Options,
) *gin.Engine {
	router := gin.New()

	// Global middleware; the request ID comes first so every later log line carries it
	router.Use(logger.RequestID())
	router.Use(logger.Recovery(log))
	router.Use(logger.AccessLog(log))

	router.GET("/health", health(opts, log))

	limit := middleware.RateLimiter(opts.Limiter)
	requireAuth := middleware.RequireAuth(auth, log)

	users := router.Group("/users")
	{
		users.POST("/signup/", limit, userHandler.SignUp)

		profile := users.Group("/profile", requireAuth)
		profile.GET("/", userHandler.GetProfile)
		profile.PUT("/", userHandler.UpdateProfile)
		profile.PATCH("/", userHandler.UpdateProfile)

		password := users.Group("/password", requireAuth, limit)
		password.PUT("/", userHandler.ChangePassword)
		password.PATCH("/", userHandler.ChangePassword)
	}

	if opts.OAuthProxy != nil {
		router.Any("/o/*path", opts.OAuthProxy)
	}

	return router
}

// health reports 503 when any dependency check fails.
func health(opts Options, log *zap.Logger) gin.HandlerFunc {
	names := make([]string, 0, len(opts.Checks))
	for name := range opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		deps := make(map[string]string, len(names))
		for _, name := range names {
			if err := opts.Checks[name](c.Request.Context()); err != nil {
				log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				deps[name] = "down"
				status, code = "unhealthy", http.StatusServiceUnavailable
				continue
			}
			deps[name] = "up"
		}

		c.JSON(code, gin.H{
			"status":       status,
			"service":      opts.ServiceName,
			"dependencies": deps,
		})
	}
}
