package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the number of tracked rate-limit buckets, mirroring
// the eviction strategy internal/channels/ratelimit.go uses for webhook keys.
const maxTrackedClients = 4096

// RateLimiter throttles WebSocket RPC calls with a token bucket per client
// key (connection id or remote address), on top of a bounded map so a client
// that keeps rotating its key can't grow memory unbounded.
type RateLimiter struct {
	rps   float64
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	seen    map[string]time.Time
}

// NewRateLimiter builds a RateLimiter from requests-per-minute and a burst
// size. rpm <= 0 disables limiting: Enabled reports false and Allow always
// succeeds without allocating any per-key state.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{
		rps:     float64(rpm) / 60,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
		seen:    make(map[string]time.Time),
	}
}

// Enabled reports whether this limiter is actively tracking buckets.
func (r *RateLimiter) Enabled() bool { return r.buckets != nil }

// Allow reports whether key may proceed right now, consuming one token from
// its bucket. Always true when the limiter is disabled.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buckets) >= maxTrackedClients {
		cutoff := time.Now().Add(-10 * time.Minute)
		for k, t := range r.seen {
			if t.Before(cutoff) {
				delete(r.buckets, k)
				delete(r.seen, k)
			}
		}
		for len(r.buckets) >= maxTrackedClients {
			for k := range r.buckets {
				delete(r.buckets, k)
				delete(r.seen, k)
				break
			}
		}
	}

	lim, ok := r.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.buckets[key] = lim
	}
	r.seen[key] = time.Now()
	return lim.Allow()
}
