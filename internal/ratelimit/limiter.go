// Package ratelimit keeps shared fixed-window counters in Redis.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRedisUnavailable = errors.New("redis unavailable")
)

type Decision struct {
	Limit     int
	Used      int
	Remaining int
	Reset     time.Time // When the window resets
	Allowed   bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// Atomic INCR, set the window expiry on the first hit
var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return {current, redis.call("PTTL", KEYS[1])}
`)

type Limiter struct {
	client redis.UniversalClient
	prefix string
}

func NewLimiter(client redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{client: client, prefix: prefix}
}

func (l *Limiter) key(k string) string { return l.prefix + ":" + k }

// Consume counts one hit against key. The window starts at the first hit.
func (l *Limiter) Consume(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	vals, err := incrScript.Run(ctx, l.client, []string{l.key(key)}, config.Window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		return nil, ErrRedisUnavailable
	}
	return decision(int(vals[0]), vals[1], config), nil
}

// Peek reports the current window usage without counting a hit.
func (l *Limiter) Peek(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	pipe := l.client.Pipeline()
	get := pipe.Get(ctx, l.key(key))
	ttl := pipe.PTTL(ctx, l.key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, ErrRedisUnavailable
	}

	used, err := get.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, ErrRedisUnavailable
	}
	return decision(used, ttl.Val().Milliseconds(), config), nil
}

func decision(used int, ttlMS int64, config LimitConfig) *Decision {
	remaining := config.Rate - used
	if remaining < 0 {
		remaining = 0
	}
	reset := time.Now().Add(config.Window)
	if ttlMS > 0 {
		reset = time.Now().Add(time.Duration(ttlMS) * time.Millisecond)
	}
	return &Decision{
		Limit:     config.Rate,
		Used:      used,
		Remaining: remaining,
		Reset:     reset,
		Allowed:   used <= config.Rate,
	}
}
