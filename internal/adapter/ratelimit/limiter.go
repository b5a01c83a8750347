// Package ratelimit implements the per-tenant sliding-window rate limiter
// (component C). Adapted from olla's RateLimitValidator
// (internal/adapter/security/request_rate_limit.go) which keyed per-IP
// limiters in a sync.Map; here the per-tenant state is an explicit
// timestamp queue (not a token bucket) because the sliding-window algorithm is
// evict-then-count, a distinct invariant from x/time/rate's token bucket.
package ratelimit

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Config holds the rate limiter's tunables.
type Config struct {
	WindowSecs float64
	MaxRPS     float64
	Burst      int
}

// Limit returns max(rps_burst, floor(max_rps_per_ip * rps_window_secs)).
func (c Config) Limit() int {
	computed := int(c.MaxRPS * c.WindowSecs)
	if c.Burst > computed {
		return c.Burst
	}
	return computed
}

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter tracks one sliding window per tenant in a lock-free map; mutation
// of one tenant's window never blocks another's.
type Limiter struct {
	cfg     Config
	windows *xsync.Map[string, *window]
}

func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, windows: xsync.NewMap[string, *window]()}
}

func (l *Limiter) windowFor(tenant string) *window {
	w, _ := l.windows.LoadOrCompute(tenant, func() (*window, bool) {
		return &window{}, false
	})
	return w
}

// Allow evicts timestamps older than the window, then admits now() if the
// remaining count is under the limit. Returns the configured limit
// regardless of outcome so callers can set X-RateLimit-Limit.
func (l *Limiter) Allow(tenant string, now time.Time) (allowed bool, limit int) {
	limit = l.cfg.Limit()
	w := l.windowFor(tenant)
	cutoff := now.Add(-time.Duration(l.cfg.WindowSecs * float64(time.Second)))

	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= limit {
		return false, limit
	}
	w.timestamps = append(w.timestamps, now)
	return true, limit
}

// Forget removes a tenant's window entirely, used by the concurrency gate's
// idle-tenant GC sweep.
func (l *Limiter) Forget(tenant string) {
	l.windows.Delete(tenant)
}
