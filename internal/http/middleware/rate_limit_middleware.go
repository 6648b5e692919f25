package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bugrelay/auth-service/internal/http/response"
)

// RateLimiter is a per-client fixed-window limiter. Windows are tracked
// in process memory keyed by client IP; state older than two windows is
// dropped opportunistically on the next hit.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	cleanup time.Time
}

type window struct {
	count   int
	startAt time.Time
}

func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		cleanup: time.Now().Add(period),
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, resetAt := rl.allow(clientIP(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
			h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
			if !allowed {
				retry := int(time.Until(resetAt).Round(time.Second).Seconds())
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", fmt.Sprintf("%d", retry))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string) (allowed bool, remaining int, resetAt time.Time) {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.cleanup) {
		for k, win := range rl.windows {
			if now.Sub(win.startAt) > 2*rl.period {
				delete(rl.windows, k)
			}
		}
		rl.cleanup = now.Add(rl.period)
	}

	win, ok := rl.windows[key]
	if !ok || now.Sub(win.startAt) >= rl.period {
		win = &window{startAt: now}
		rl.windows[key] = win
	}
	resetAt = win.startAt.Add(rl.period)
	if win.count >= rl.limit {
		return false, 0, resetAt
	}
	win.count++
	return true, rl.limit - win.count, resetAt
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware has already rewritten RemoteAddr when a
	// trusted forwarding header was present.
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 && strings.Count(addr, ":") == 1 {
		return addr[:i]
	}
	if strings.HasPrefix(addr, "[") {
		if i := strings.Index(addr, "]"); i > 0 {
			return addr[1:i]
		}
	}
	return addr
}
