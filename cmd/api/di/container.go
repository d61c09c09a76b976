package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"account-service/cmd/api/infrastructure"
	"account-service/internal/adapter/auth"
	"account-service/internal/adapter/cache"
	"account-service/internal/adapter/db/postgres"
	ginhandler "account-service/internal/adapter/gin/handler"
	ginrouter "account-service/internal/adapter/gin/router"
	"account-service/internal/adapter/oauth"
	"account-service/internal/adapter/ratelimit"
	"account-service/internal/adapter/repository/cached"
	"account-service/internal/config"
	"account-service/internal/usecase/user"
	redisclient "account-service/pkg/redis"
	"account-service/pkg/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Container holds all application dependencies
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	DB            *gorm.DB
	RedisClient   *redisclient.Client // nil when Redis is disabled
	UserUC        *user.Usecase
	Limiter       *ratelimit.Limiter // nil when rate limiting is off
	Authenticator *auth.Authenticator
	GinHandler    *ginhandler.UserHandler
	Router        *gin.Engine
}

// NewContainer creates and initializes all application dependencies
func NewContainer(cfg *config.Config, l *zap.Logger) (_ *Container, err error) {
	// Validate configuration before initializing any dependencies
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	c := &Container{Config: cfg, Logger: l}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	// Initialize database
	c.DB, err = infrastructure.NewDatabase(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize Redis client
	c.RedisClient, err = infrastructure.NewRedisClient(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// Initialize repository, cached when Redis is available
	dbRepo := postgres.NewUserRepoPG(c.DB, l)
	var repo user.Repository = dbRepo
	if c.RedisClient != nil {
		userCache := cache.NewRedisUserCache(
			c.RedisClient.Client,
			time.Duration(cfg.Redis.CacheTTL)*time.Second,
			l,
		)
		repo = cached.NewCachedUserRepository(dbRepo, userCache, l)
	}

	// Initialize password hashing and policy
	hasher := security.NewArgon2Hasher(security.Argon2Params{
		Memory:      cfg.Password.Argon2MemoryKiB,
		Iterations:  cfg.Password.Argon2Iterations,
		Parallelism: cfg.Password.Argon2Parallelism,
	})
	passwords, err := security.NewPasswordValidator(security.PasswordPolicy{
		MinLength:      cfg.Password.MinLength,
		MaxSimilarity:  cfg.Password.MaxSimilarity,
		CommonListPath: cfg.Password.CommonListPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load password policy: %w", err)
	}

	// Initialize use case
	c.UserUC = user.New(repo, hasher, passwords, l, user.WithDefaultGroups(cfg.Password.SignupDefaultGroups...))

	// Initialize token verification
	verifier, err := newVerifier(cfg, c.RedisClient, l)
	if err != nil {
		return nil, err
	}
	c.Authenticator = auth.NewAuthenticator(verifier, repo, l)

	opts := ginrouter.Options{
		ServiceName: cfg.Logger.ServiceName,
		Checks: map[string]func(context.Context) error{
			"database": func(ctx context.Context) error {
				sqlDB, err := c.DB.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
	}

	// Initialize rate limiter
	if c.RedisClient != nil && cfg.RateLimit.Enabled {
		c.Limiter = ratelimit.NewLimiter(
			c.RedisClient.Client,
			ratelimit.Config{
				Enabled:           true,
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				BurstCapacity:     cfg.RateLimit.BurstCapacity,
			},
			l,
		)
		opts.Limiter = c.Limiter
	}
	if c.RedisClient != nil {
		opts.Checks["redis"] = c.RedisClient.Ping
	}

	if cfg.Auth.ProviderURL != "" {
		proxy, err := oauth.NewProxy(cfg.Auth.ProviderURL, l)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OAuth proxy: %w", err)
		}
		opts.OAuthProxy = proxy.Handler()
	}

	// Initialize Gin handler and router
	c.GinHandler = ginhandler.NewUserHandler(c.UserUC, l)
	gin.SetMode(gin.ReleaseMode)
	c.Router = ginrouter.SetupRouter(c.GinHandler, c.Authenticator, l, opts)

	return c, nil
}

func newVerifier(cfg *config.Config, rdb *redisclient.Client, l *zap.Logger) (auth.Verifier, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		l.Info("bearer tokens verified as JWTs", zap.String("issuer", cfg.Auth.JWTIssuer))
		return auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience), nil
	case config.AuthModeIntrospection:
		var v auth.Verifier = auth.NewIntrospector(
			cfg.Auth.IntrospectionURL,
			cfg.Auth.ClientID,
			cfg.Auth.ClientSecret,
			&http.Client{Timeout: 5 * time.Second},
		)
		if rdb != nil && cfg.Auth.IntrospectionCacheSeconds > 0 {
			v = auth.NewCachedVerifier(v, rdb.Client, time.Duration(cfg.Auth.IntrospectionCacheSeconds)*time.Second, l)
		}
		l.Info("bearer tokens verified by introspection", zap.String("url", cfg.Auth.IntrospectionURL))
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

// Close closes all resources held by the container
func (c *Container) Close() error {
	var errs []error

	// Close Redis connection
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	// Close database connection
	if c.DB != nil {
		if err := infrastructure.CloseDatabase(c.DB); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	return errors.Join(errs...)
}
