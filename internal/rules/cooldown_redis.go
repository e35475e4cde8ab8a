package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] last match time, KEYS[2] per-event marker ("1" matched, "0" cooling)
// ARGV: cooldown ms, marker ttl ms, now ms
var acquireScript = redis.NewScript(`
	local seen = redis.call("GET", KEYS[2])
	if seen == "1" then
		return 2
	elseif seen == "0" then
		return 1
	end
	local cooldown = tonumber(ARGV[1])
	local now = tonumber(ARGV[3])
	local last = redis.call("GET", KEYS[1])
	if last and cooldown > 0 and (now - tonumber(last)) < cooldown then
		redis.call("SET", KEYS[2], "0", "PX", ARGV[2])
		return 1
	end
	redis.call("SET", KEYS[1], ARGV[3], "PX", cooldown + 60000)
	redis.call("SET", KEYS[2], "1", "PX", ARGV[2])
	return 0
`)

// RedisTracker shares cooldowns between replicas.
type RedisTracker struct {
	client    redis.UniversalClient
	prefix    string
	markerTTL time.Duration
}

func NewRedisTracker(client redis.UniversalClient, prefix string) *RedisTracker {
	if prefix == "" {
		prefix = "rules"
	}
	return &RedisTracker{client: client, prefix: prefix, markerTTL: 24 * time.Hour}
}

func (t *RedisTracker) Acquire(ctx context.Context, ruleID string, eventID uuid.UUID, cooldown time.Duration, now time.Time) (Acquisition, error) {
	keys := []string{
		fmt.Sprintf("%s:cooldown:{%s}", t.prefix, ruleID),
		fmt.Sprintf("%s:fired:{%s}:%s", t.prefix, ruleID, eventID),
	}
	res, err := acquireScript.Run(ctx, t.client, keys,
		cooldown.Milliseconds(), t.markerTTL.Milliseconds(), now.UnixMilli(),
	).Int()
	if err != nil {
		return Cooling, fmt.Errorf("cooldown acquire: %w", err)
	}

	switch res {
	case 0:
		return Acquired, nil
	case 2:
		return Repeat, nil
	default:
		return Cooling, nil
	}
}
