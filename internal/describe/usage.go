package describe

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/ratelimit"
	"golang.org/x/time/rate"
)

// Quota bounds requests per period for one provider. A zero Limit disables
// accounting. A provider is skipped once its remaining budget falls to Reserve.
type Quota struct {
	Limit   int           `yaml:"limit"`
	Period  time.Duration `yaml:"period"`
	Reserve int           `yaml:"reserve"`
}

func (q Quota) enabled() bool { return q.Limit > 0 && q.Period > 0 }

// UsageTracker accounts provider requests against their quota.
type UsageTracker interface {
	Ready(ctx context.Context, provider string, q Quota) error
	Record(ctx context.Context, provider string, q Quota)
}

// MemoryUsage is a per-process token bucket per provider.
type MemoryUsage struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemoryUsage() *MemoryUsage {
	return &MemoryUsage{limiters: make(map[string]*rate.Limiter)}
}

func (m *MemoryUsage) limiter(provider string, q Quota) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(q.Limit)/q.Period.Seconds()), q.Limit)
		m.limiters[provider] = l
	}
	return l
}

func (m *MemoryUsage) Ready(ctx context.Context, provider string, q Quota) error {
	if !q.enabled() {
		return nil
	}
	remaining := math.Floor(m.limiter(provider, q).Tokens())
	if remaining <= float64(q.Reserve) || remaining < 1 {
		return fmt.Errorf("%w: %s has %.0f of %d left", ErrQuotaReserve, provider, remaining, q.Limit)
	}
	return nil
}

func (m *MemoryUsage) Record(ctx context.Context, provider string, q Quota) {
	if !q.enabled() {
		return
	}
	m.limiter(provider, q).Allow()
}

// RedisUsage shares a fixed window per provider between replicas. Redis
// failures fail open.
type RedisUsage struct {
	limiter *ratelimit.Limiter
}

func NewRedisUsage(l *ratelimit.Limiter) *RedisUsage {
	return &RedisUsage{limiter: l}
}

func (r *RedisUsage) Ready(ctx context.Context, provider string, q Quota) error {
	if !q.enabled() {
		return nil
	}
	d, err := r.limiter.Peek(ctx, "provider:"+provider, ratelimit.LimitConfig{Rate: q.Limit, Window: q.Period})
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("quota check failed, allowing request")
		return nil
	}
	if d.Remaining <= q.Reserve {
		return fmt.Errorf("%w: %s has %d of %d left", ErrQuotaReserve, provider, d.Remaining, q.Limit)
	}
	return nil
}

func (r *RedisUsage) Record(ctx context.Context, provider string, q Quota) {
	if !q.enabled() {
		return
	}
	if _, err := r.limiter.Consume(ctx, "provider:"+provider, ratelimit.LimitConfig{Rate: q.Limit, Window: q.Period}); err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("quota record failed")
	}
}
