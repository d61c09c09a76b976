package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pkgerrors "account-service/pkg/errors"
)

type countingVerifier struct {
	calls atomic.Int64
	tok   *Token
	err   error
}

func (c *countingVerifier) Verify(context.Context, string) (*Token, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	out := *c.tok
	return &out, nil
}

func setupCache(t *testing.T, next Verifier, ttl time.Duration) (*CachedVerifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedVerifier(next, client, ttl, zaptest.NewLogger(t)), mr
}

func TestCachedVerifier_CachesActiveTokens(t *testing.T) {
	next := &countingVerifier{tok: &Token{Active: true, Username: "a@x.com", ExpiresAt: time.Now().Add(time.Hour).UTC()}}
	cached, mr := setupCache(t, next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, err := cached.Verify(ctx, "tok")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", tok.Username)
	}

	assert.Equal(t, int64(1), next.calls.Load())
	assert.Equal(t, time.Minute, mr.TTL(tokenKey("tok")))
	assert.Equal(t, []string{tokenKey("tok")}, mr.Keys())
}

func TestCachedVerifier_TTLBoundedByExpiry(t *testing.T) {
	next := &countingVerifier{tok: &Token{Active: true, Username: "a@x.com", ExpiresAt: time.Now().Add(10 * time.Second)}}
	cached, mr := setupCache(t, next, time.Minute)

	_, err := cached.Verify(context.Background(), "tok")
	require.NoError(t, err)

	ttl := mr.TTL(tokenKey("tok"))
	assert.Positive(t, ttl)
	assert.LessOrEqual(t, ttl, 10*time.Second)
}

func TestCachedVerifier_DoesNotCacheFailures(t *testing.T) {
	next := &countingVerifier{err: pkgerrors.NewUnauthorizedError("Invalid token.")}
	cached, mr := setupCache(t, next, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cached.Verify(context.Background(), "bad")
		assert.Error(t, err)
	}

	assert.Equal(t, int64(2), next.calls.Load())
	assert.Empty(t, mr.Keys())
}

func TestCachedVerifier_RedisDown(t *testing.T) {
	next := &countingVerifier{tok: &Token{Active: true, Username: "a@x.com"}}
	cached, mr := setupCache(t, next, time.Minute)
	mr.Close()

	tok, err := cached.Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", tok.Username)
}
