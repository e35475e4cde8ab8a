package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	mini := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLimiter(rdb, "test"), mini
}

func TestConsume_WindowCounts(t *testing.T) {
	l, mini := setupLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{Rate: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		d, err := l.Consume(ctx, "provider:openai", cfg)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := l.Consume(ctx, "provider:openai", cfg)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	mini.FastForward(time.Minute + time.Second)

	d, err = l.Consume(ctx, "provider:openai", cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Used)
}

func TestPeek_DoesNotCount(t *testing.T) {
	l, _ := setupLimiter(t)
	ctx := context.Background()
	cfg := LimitConfig{Rate: 10, Window: time.Minute}

	d, err := l.Peek(ctx, "k", cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Used)

	_, err = l.Consume(ctx, "k", cfg)
	require.NoError(t, err)

	d, err = l.Peek(ctx, "k", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Used)
	assert.Equal(t, 9, d.Remaining)
}

func TestConsume_RedisDown(t *testing.T) {
	l, mini := setupLimiter(t)
	mini.Close()

	_, err := l.Consume(context.Background(), "k", LimitConfig{Rate: 1, Window: time.Second})
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}
