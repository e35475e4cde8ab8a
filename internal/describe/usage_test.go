package describe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/technosupport/ts-events/internal/ratelimit"
)

func TestMemoryUsage_Reserve(t *testing.T) {
	u := NewMemoryUsage()
	ctx := context.Background()
	q := Quota{Limit: 5, Period: time.Hour, Reserve: 2}

	for i := 0; i < 3; i++ {
		assert.NoError(t, u.Ready(ctx, "openai", q))
		u.Record(ctx, "openai", q)
	}
	assert.ErrorIs(t, u.Ready(ctx, "openai", q), ErrQuotaReserve)
	assert.NoError(t, u.Ready(ctx, "gemini", q), "providers are tracked separately")
	assert.NoError(t, u.Ready(ctx, "openai", Quota{}), "no quota means no accounting")
}

func TestRedisUsage_SharedWindow(t *testing.T) {
	mini := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	q := Quota{Limit: 3, Period: time.Minute, Reserve: 1}

	// Two replicas share the same counters.
	a := NewRedisUsage(ratelimit.NewLimiter(rdb, "usage"))
	b := NewRedisUsage(ratelimit.NewLimiter(rdb, "usage"))

	assert.NoError(t, a.Ready(ctx, "openai", q))
	a.Record(ctx, "openai", q)
	b.Record(ctx, "openai", q)
	assert.ErrorIs(t, a.Ready(ctx, "openai", q), ErrQuotaReserve)

	mini.FastForward(2 * time.Minute)
	assert.NoError(t, b.Ready(ctx, "openai", q))
}

func TestRedisUsage_FailsOpen(t *testing.T) {
	mini := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	defer rdb.Close()
	mini.Close()

	u := NewRedisUsage(ratelimit.NewLimiter(rdb, "usage"))
	assert.NoError(t, u.Ready(context.Background(), "openai", Quota{Limit: 1, Period: time.Minute}))
}
