package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	bucket := NewTokenBucket(client, capacity, refill, time.Minute)
	bucket.now = func() time.Time { return clock }
	return bucket, &clock
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "user:thupten")
	require.NoError(t, err)
	assert.True(t, allowed, "first token")

	allowed, remaining, err := bucket.Allow(ctx, "user:thupten")
	require.NoError(t, err)
	assert.True(t, allowed, "second token")
	assert.Zero(t, remaining)

	allowed, _, err = bucket.Allow(ctx, "user:thupten")
	require.NoError(t, err)
	assert.False(t, allowed, "third token rejected")

	allowed, _, err = bucket.Allow(ctx, "agent:clawd")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are independent")
}

func TestTokenBucketRefills(t *testing.T) {
	ctx := context.Background()
	bucket, clock := newBucket(t, 1, 2)

	allowed, _, err := bucket.Allow(ctx, "k")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx, "k")
	require.NoError(t, err)
	require.False(t, allowed)

	*clock = clock.Add(250 * time.Millisecond)
	allowed, _, err = bucket.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, allowed, "half a token is not enough")

	*clock = clock.Add(250 * time.Millisecond)
	allowed, _, err = bucket.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestLocalLimiter(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLimiter(2, 0.001)

	for i := 0; i < 2; i++ {
		allowed, _, err := l.Allow(ctx, "user:thupten")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _, err := l.Allow(ctx, "user:thupten")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, _, err = l.Allow(ctx, "agent:clawd")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	allowed, _, err := l.Allow(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, allowed)
}
