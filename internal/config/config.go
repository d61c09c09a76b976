package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	DB        DatabaseConfig
	App       AppConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Password  PasswordConfig
}

// DatabaseConfig holds configuration for the database
type DatabaseConfig struct {
	Driver          string `mapstructure:"DB_DRIVER"` // postgres or sqlite
	Host            string `mapstructure:"DB_HOST"`
	Port            string `mapstructure:"DB_PORT"`
	User            string `mapstructure:"DB_USER"`
	Password        string `mapstructure:"DB_PASSWORD"`
	Name            string `mapstructure:"DB_NAME"` // database name, or file path for sqlite
	SSLMode         string `mapstructure:"DB_SSLMODE"`
	MaxOpenConns    int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `mapstructure:"DB_CONN_MAX_LIFETIME_SECONDS"`
	ConnMaxIdleTime int    `mapstructure:"DB_CONN_MAX_IDLE_TIME_SECONDS"`
	AutoMigrate     bool   `mapstructure:"DB_AUTO_MIGRATE"`
}

// AppConfig holds configuration for the application server
type AppConfig struct {
	HTTPPort               string `mapstructure:"HTTP_PORT"`
	ShutdownTimeoutSeconds int    `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// RedisConfig holds configuration for the profile cache, introspection cache and rate limiter
type RedisConfig struct {
	Enabled     bool   `mapstructure:"REDIS_ENABLED"`
	Host        string `mapstructure:"REDIS_HOST"`
	Port        string `mapstructure:"REDIS_PORT"`
	Password    string `mapstructure:"REDIS_PASSWORD"`
	DB          int    `mapstructure:"REDIS_DB"`
	MaxRetries  int    `mapstructure:"REDIS_MAX_RETRIES"`
	PoolSize    int    `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConn int    `mapstructure:"REDIS_MIN_IDLE_CONN"`
	CacheTTL    int    `mapstructure:"REDIS_CACHE_TTL_SECONDS"`
}

// RateLimitConfig holds configuration for the token bucket limiter
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond float64 `mapstructure:"RATE_LIMIT_REQUESTS_PER_SECOND"`
	BurstCapacity     int     `mapstructure:"RATE_LIMIT_BURST_CAPACITY"`
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	Level            string  `mapstructure:"LOG_LEVEL"`
	Format           string  `mapstructure:"LOG_FORMAT"`
	OutputPath       string  `mapstructure:"LOG_OUTPUT_PATH"`
	SlowQuerySeconds float64 `mapstructure:"LOG_SLOW_QUERY_SECONDS"`
	EnableSampling   bool    `mapstructure:"LOG_ENABLE_SAMPLING"`
	ServiceName      string  `mapstructure:"SERVICE_NAME"`
	ServiceVersion   string  `mapstructure:"SERVICE_VERSION"`
}

// AuthConfig holds configuration for authenticating callers against the OAuth2 provider
type AuthConfig struct {
	Mode                      string `mapstructure:"AUTH_MODE"` // introspection or jwt
	IntrospectionURL          string `mapstructure:"AUTH_INTROSPECTION_URL"`
	ClientID                  string `mapstructure:"AUTH_CLIENT_ID"`
	ClientSecret              string `mapstructure:"AUTH_CLIENT_SECRET"`
	IntrospectionCacheSeconds int    `mapstructure:"AUTH_INTROSPECTION_CACHE_SECONDS"`
	JWTSecret                 string `mapstructure:"AUTH_JWT_SECRET"`
	JWTIssuer                 string `mapstructure:"AUTH_JWT_ISSUER"`
	JWTAudience               string `mapstructure:"AUTH_JWT_AUDIENCE"`
	ProviderURL               string `mapstructure:"AUTH_PROVIDER_URL"` // proxied under /o/ when set
}

// PasswordConfig holds the password policy and hashing cost
type PasswordConfig struct {
	MinLength           int      `mapstructure:"PASSWORD_MIN_LENGTH"`
	MaxSimilarity       float64  `mapstructure:"PASSWORD_MAX_SIMILARITY"`
	CommonListPath      string   `mapstructure:"PASSWORD_COMMON_LIST_PATH"`
	Argon2MemoryKiB     uint32   `mapstructure:"PASSWORD_ARGON2_MEMORY_KIB"`
	Argon2Iterations    uint32   `mapstructure:"PASSWORD_ARGON2_ITERATIONS"`
	Argon2Parallelism   uint8    `mapstructure:"PASSWORD_ARGON2_PARALLELISM"`
	SignupDefaultGroups []string `mapstructure:"SIGNUP_DEFAULT_GROUPS"`
}

const (
	// AuthModeIntrospection validates bearer tokens with RFC 7662 introspection
	AuthModeIntrospection = "introspection"
	// AuthModeJWT validates bearer tokens as HS256-signed JWTs
	AuthModeJWT = "jwt"
)

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("app") // Look for app.env
	v.SetConfigType("env")

	v.AutomaticEnv() // Read from environment variables

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if we have env vars
	}

	var config Config

	config.DB.Driver = v.GetString("DB_DRIVER")
	config.DB.Host = v.GetString("DB_HOST")
	config.DB.Port = v.GetString("DB_PORT")
	config.DB.User = v.GetString("DB_USER")
	config.DB.Password = v.GetString("DB_PASSWORD")
	config.DB.Name = v.GetString("DB_NAME")
	config.DB.SSLMode = v.GetString("DB_SSLMODE")
	config.DB.MaxOpenConns = v.GetInt("DB_MAX_OPEN_CONNS")
	config.DB.MaxIdleConns = v.GetInt("DB_MAX_IDLE_CONNS")
	config.DB.ConnMaxLifetime = v.GetInt("DB_CONN_MAX_LIFETIME_SECONDS")
	config.DB.ConnMaxIdleTime = v.GetInt("DB_CONN_MAX_IDLE_TIME_SECONDS")
	config.DB.AutoMigrate = v.GetBool("DB_AUTO_MIGRATE")

	config.App.HTTPPort = v.GetString("HTTP_PORT")
	config.App.ShutdownTimeoutSeconds = v.GetInt("SHUTDOWN_TIMEOUT_SECONDS")

	config.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	config.Redis.Host = v.GetString("REDIS_HOST")
	config.Redis.Port = v.GetString("REDIS_PORT")
	config.Redis.Password = v.GetString("REDIS_PASSWORD")
	config.Redis.DB = v.GetInt("REDIS_DB")
	config.Redis.MaxRetries = v.GetInt("REDIS_MAX_RETRIES")
	config.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	config.Redis.MinIdleConn = v.GetInt("REDIS_MIN_IDLE_CONN")
	config.Redis.CacheTTL = v.GetInt("REDIS_CACHE_TTL_SECONDS")

	config.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	config.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_REQUESTS_PER_SECOND")
	config.RateLimit.BurstCapacity = v.GetInt("RATE_LIMIT_BURST_CAPACITY")

	config.Logger.Level = v.GetString("LOG_LEVEL")
	config.Logger.Format = v.GetString("LOG_FORMAT")
	config.Logger.OutputPath = v.GetString("LOG_OUTPUT_PATH")
	config.Logger.SlowQuerySeconds = v.GetFloat64("LOG_SLOW_QUERY_SECONDS")
	config.Logger.EnableSampling = v.GetBool("LOG_ENABLE_SAMPLING")
	config.Logger.ServiceName = v.GetString("SERVICE_NAME")
	config.Logger.ServiceVersion = v.GetString("SERVICE_VERSION")

	config.Auth.Mode = strings.ToLower(v.GetString("AUTH_MODE"))
	config.Auth.IntrospectionURL = v.GetString("AUTH_INTROSPECTION_URL")
	config.Auth.ClientID = v.GetString("AUTH_CLIENT_ID")
	config.Auth.ClientSecret = v.GetString("AUTH_CLIENT_SECRET")
	config.Auth.IntrospectionCacheSeconds = v.GetInt("AUTH_INTROSPECTION_CACHE_SECONDS")
	config.Auth.JWTSecret = v.GetString("AUTH_JWT_SECRET")
	config.Auth.JWTIssuer = v.GetString("AUTH_JWT_ISSUER")
	config.Auth.JWTAudience = v.GetString("AUTH_JWT_AUDIENCE")
	config.Auth.ProviderURL = v.GetString("AUTH_PROVIDER_URL")

	config.Password.MinLength = v.GetInt("PASSWORD_MIN_LENGTH")
	config.Password.MaxSimilarity = v.GetFloat64("PASSWORD_MAX_SIMILARITY")
	config.Password.CommonListPath = v.GetString("PASSWORD_COMMON_LIST_PATH")
	config.Password.Argon2MemoryKiB = v.GetUint32("PASSWORD_ARGON2_MEMORY_KIB")
	config.Password.Argon2Iterations = v.GetUint32("PASSWORD_ARGON2_ITERATIONS")
	config.Password.Argon2Parallelism = uint8(v.GetUint("PASSWORD_ARGON2_PARALLELISM"))
	config.Password.SignupDefaultGroups = splitCSV(v.GetString("SIGNUP_DEFAULT_GROUPS"))

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "account_service")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME_SECONDS", 300)
	v.SetDefault("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 15)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONN", 2)
	v.SetDefault("REDIS_CACHE_TTL_SECONDS", 300)

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_REQUESTS_PER_SECOND", 1.0)
	v.SetDefault("RATE_LIMIT_BURST_CAPACITY", 10)

	// Logger defaults
	env := v.GetString("APP_ENV")
	if env == "production" {
		v.SetDefault("LOG_LEVEL", "info")
		v.SetDefault("LOG_FORMAT", "json")
		v.SetDefault("LOG_ENABLE_SAMPLING", true)
	} else {
		v.SetDefault("LOG_LEVEL", "debug")
		v.SetDefault("LOG_FORMAT", "console")
		v.SetDefault("LOG_ENABLE_SAMPLING", false)
	}
	v.SetDefault("LOG_OUTPUT_PATH", "stdout")
	v.SetDefault("LOG_SLOW_QUERY_SECONDS", 0.2)
	v.SetDefault("SERVICE_NAME", "account-service")
	v.SetDefault("SERVICE_VERSION", "1.0.0")

	v.SetDefault("AUTH_MODE", AuthModeIntrospection)
	v.SetDefault("AUTH_INTROSPECTION_URL", "http://localhost:8000/o/introspect/")
	v.SetDefault("AUTH_INTROSPECTION_CACHE_SECONDS", 60)

	v.SetDefault("PASSWORD_MIN_LENGTH", 8)
	v.SetDefault("PASSWORD_MAX_SIMILARITY", 0.7)
	v.SetDefault("PASSWORD_ARGON2_MEMORY_KIB", 64*1024)
	v.SetDefault("PASSWORD_ARGON2_ITERATIONS", 1)
	v.SetDefault("PASSWORD_ARGON2_PARALLELISM", 4)
	v.SetDefault("SIGNUP_DEFAULT_GROUPS", "")
}

// Validate checks that the configuration is usable before any dependency is built.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.App.HTTPPort == "" {
		errs = append(errs, errors.New("HTTP_PORT is required"))
	}
	if c.App.ShutdownTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT_SECONDS must be positive"))
	}
	if c.RateLimit.Enabled && c.Redis.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_REQUESTS_PER_SECOND must be positive"))
		}
		if c.RateLimit.BurstCapacity <= 0 {
			errs = append(errs, errors.New("RATE_LIMIT_BURST_CAPACITY must be positive"))
		}
	}

	switch c.Auth.Mode {
	case AuthModeIntrospection:
		if c.Auth.IntrospectionURL == "" {
			errs = append(errs, errors.New("AUTH_INTROSPECTION_URL is required for introspection mode"))
		}
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("AUTH_JWT_SECRET is required for jwt mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be %s or %s, got %q", AuthModeIntrospection, AuthModeJWT, c.Auth.Mode))
	}

	if c.Password.MaxSimilarity < 0 || c.Password.MaxSimilarity > 1 {
		errs = append(errs, errors.New("PASSWORD_MAX_SIMILARITY must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

// DSN returns the PostgreSQL Data Source Name
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
