package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key, created on first use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether one event for key fits in a bucket refilling at
// perSec with capacity burst. An empty key or a non-positive limit always
// passes.
func (l *Limiter) Allow(key string, perSec float64, burst int, now time.Time) bool {
	if key == "" {
		return true
	}
	if perSec <= 0 || burst <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(perSec), burst)
		l.buckets[key] = b
	}
	if b.Limit() != rate.Limit(perSec) {
		b.SetLimitAt(now, rate.Limit(perSec))
	}
	if b.Burst() != burst {
		b.SetBurstAt(now, burst)
	}
	return b.AllowN(now, 1)
}

// PerMinute converts an events-per-minute budget to a refill rate.
func PerMinute(n int) float64 {
	return float64(n) / 60
}
