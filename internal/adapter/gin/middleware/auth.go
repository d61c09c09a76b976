package middleware

import (
	"context"
	"net/http"
	"strings"

	domain "account-service/internal/domain/user"
	pkgerrors "account-service/pkg/errors"
	"account-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorKey = "account.actor"

// Authenticator resolves a bearer token to the caller's account.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (domain.Actor, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// resolved Actor on the Gin context.
func RequireAuth(auth Authenticator, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "Authentication credentials were not provided.")
			return
		}

		actor, err := auth.Authenticate(c.Request.Context(), raw)
		if err != nil {
			status := pkgerrors.StatusOf(err)
			if status == http.StatusUnauthorized {
				logger.WithContext(c.Request.Context(), log).Info("bearer token rejected", zap.Error(err))
				abortUnauthorized(c, err.Error())
				return
			}
			logger.WithContext(c.Request.Context(), log).Error("authentication failed", zap.Error(err))
			if status == http.StatusServiceUnavailable {
				c.AbortWithStatusJSON(status, gin.H{
					"error":   "service_unavailable",
					"message": "Could not verify credentials",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "An internal error occurred",
			})
			return
		}

		c.Set(actorKey, actor)
		c.Request = c.Request.WithContext(logger.WithActor(c.Request.Context(), actor.UserID, actor.ClientID))
		c.Next()
	}
}

// ActorFrom returns the Actor stored by RequireAuth.
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

// Challenge sets the header that must accompany every 401.
func Challenge(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
}

func abortUnauthorized(c *gin.Context, message string) {
	Challenge(c)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
