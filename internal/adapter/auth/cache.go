package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedVerifier remembers positive verification results in Redis so a
// burst of requests with one token costs one introspection call. Keys are
// token digests; raw tokens are never stored.
type CachedVerifier struct {
	next   Verifier
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewCachedVerifier wraps next with a Redis cache.
func NewCachedVerifier(next Verifier, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedVerifier {
	return &CachedVerifier{next: next, client: client, ttl: ttl, log: log}
}

func tokenKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "account:introspect:" + hex.EncodeToString(sum[:])
}

// Verify returns a cached result when one exists, otherwise asks next.
func (c *CachedVerifier) Verify(ctx context.Context, raw string) (*Token, error) {
	key := tokenKey(raw)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var tok Token
		if jerr := json.Unmarshal(data, &tok); jerr == nil && (tok.ExpiresAt.IsZero() || tok.ExpiresAt.After(time.Now())) {
			return &tok, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.Warn("introspection cache unavailable", zap.Error(err))
	}

	tok, err := c.next.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}

	ttl := c.ttl
	if !tok.ExpiresAt.IsZero() {
		if left := time.Until(tok.ExpiresAt); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return tok, nil
	}

	if data, err := json.Marshal(tok); err == nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.log.Warn("failed to cache introspection result", zap.Error(err))
		}
	}
	return tok, nil
}
