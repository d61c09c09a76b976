package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"account-service/internal/adapter/ratelimit"
)

// Limiter takes one token for a caller from a named bucket.
type Limiter interface {
	Allow(ctx context.Context, scope, subject string) (bool, error)
	Config() ratelimit.Config
}

// RateLimiter returns a Gin middleware for rate limiting using Token Bucket
// algorithm. Buckets are per method, route and client IP.
func RateLimiter(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		scope := c.Request.Method + ":" + c.FullPath()

		// errors are logged by the limiter; it fails open
		allowed, _ := limiter.Allow(c.Request.Context(), scope, c.ClientIP())
		if !allowed {
			cfg := limiter.Config()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Rate limit exceeded: %.2f requests/second (burst capacity: %d)", cfg.RequestsPerSecond, cfg.BurstCapacity),
			})
			return
		}

		c.Next()
	}
}
