package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds configuration for the token bucket limiter.
type Config struct {
	Enabled           bool
	RequestsPerSecond float64 // refill rate
	BurstCapacity     int     // bucket size
}

// tokenBucket refills at rate tokens per second up to capacity and takes one
// token per call. State is {last_refill, tokens} in a hash so every replica
// shares the same bucket.
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local bucket = redis.call('HMGET', key, 'last_refill', 'tokens')
	local last_refill = tonumber(bucket[1]) or now
	local tokens = tonumber(bucket[2]) or capacity

	local elapsed = math.max(0, now - last_refill)
	tokens = math.min(capacity, tokens + elapsed * rate)

	local allowed = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	end

	redis.call('HSET', key, 'last_refill', now, 'tokens', tokens)
	redis.call('EXPIRE', key, ttl)
	return allowed
`)

// Limiter is a Redis-backed token bucket shared by all service replicas.
type Limiter struct {
	client *redis.Client
	config Config
	log    *zap.Logger
}

// NewLimiter creates a new token bucket limiter.
func NewLimiter(client *redis.Client, config Config, log *zap.Logger) *Limiter {
	return &Limiter{
		client: client,
		config: config,
		log:    log,
	}
}

// Config returns the limiter settings.
func (l *Limiter) Config() Config {
	return l.config
}

// Allow takes one token from the bucket identified by scope and subject.
// It fails open: on a Redis error the request is allowed and the error is
// returned for logging.
func (l *Limiter) Allow(ctx context.Context, scope, subject string) (bool, error) {
	if l == nil || !l.config.Enabled || l.client == nil {
		return true, nil
	}

	key := fmt.Sprintf("ratelimit:tb:%s:%s", scope, subject)

	// Redis clock, so replicas with skewed clocks agree on refill
	now, err := l.client.Time(ctx).Result()
	if err != nil {
		l.log.Warn("rate limiter redis error, allowing request", zap.String("key", key), zap.Error(err))
		return true, err
	}

	allowed, err := tokenBucket.Run(ctx, l.client, []string{key},
		l.config.RequestsPerSecond,
		l.config.BurstCapacity,
		float64(now.UnixMilli())/1000,
		l.bucketTTL(),
	).Int64()
	if err != nil {
		l.log.Warn("rate limiter redis error, allowing request", zap.String("key", key), zap.Error(err))
		return true, err
	}

	if allowed == 0 {
		l.log.Warn("rate limit exceeded",
			zap.String("scope", scope),
			zap.String("subject", subject),
			zap.Float64("limit", l.config.RequestsPerSecond),
		)
		return false, nil
	}
	return true, nil
}

// bucketTTL keeps idle buckets long enough to refill completely.
func (l *Limiter) bucketTTL() int {
	if l.config.RequestsPerSecond <= 0 {
		return 60
	}
	refill := time.Duration(float64(l.config.BurstCapacity) / l.config.RequestsPerSecond * float64(time.Second))
	secs := int(refill.Seconds()) + 1
	if secs < 60 {
		return 60
	}
	return secs
}
