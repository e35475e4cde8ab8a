package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/technosupport/ts-events/internal/ratelimit"
)

// RateLimitMiddleware bounds how often one client may request expensive work,
// such as a manual analysis. Redis failures fail open.
type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  ratelimit.LimitConfig
	scope   string
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, scope string, c ratelimit.LimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: c, scope: scope}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || m.config.Rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := m.scope + ":ip:" + hashIP(clientIP(r))
		decision, err := m.limiter.Consume(r.Context(), key, m.config)
		if err != nil {
			if errors.Is(err, ratelimit.ErrRedisUnavailable) {
				RecordRateLimit("redis_error")
			}
			log.Warn().Err(err).Str("scope", m.scope).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		writeRateLimitHeaders(w, decision)
		if !decision.Allowed {
			RecordRateLimit("limited")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		RecordRateLimit("allowed")
		next.ServeHTTP(w, r)
	})
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		retry := int(time.Until(d.Reset).Seconds()) + 1
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
	}
}
