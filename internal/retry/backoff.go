package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff describes an exponential delay schedule with optional jitter.
type Backoff struct {
	Initial    time.Duration // Delay before the first retry
	Max        time.Duration // Cap, zero means uncapped
	Multiplier float64       // Growth per retry (default: 2.0)
	Jitter     float64       // Jitter factor 0-1
}

// Delay returns the wait before retry number n (1-based): Initial * Multiplier^(n-1).
func (b Backoff) Delay(n int) time.Duration {
	if b.Initial <= 0 || n < 1 {
		return 0
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}

	delay := float64(b.Initial) * math.Pow(mult, float64(n-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterRange
	}
	if delay < 0 {
		delay = float64(b.Initial)
	}
	return time.Duration(delay)
}
