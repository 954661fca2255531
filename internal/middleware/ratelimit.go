package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle client's limiter is kept.
const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP. Idle buckets are
// swept lazily while holding the lock, at most once per visitorTTL, so no
// background goroutine is needed.
type IPRateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewIPRateLimiter allows rps requests per second per IP with bursts of
// up to burst.
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether a request from ip may proceed now.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > visitorTTL {
		rl.sweep(now)
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (rl *IPRateLimiter) sweep(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(rl.visitors, ip)
		}
	}
	rl.lastSweep = now
}

// RateLimitRecorder counts rejected requests. *metrics.Metrics implements it.
type RateLimitRecorder interface {
	RecordRateLimited()
}

// RateLimit rejects requests over the per-IP limit with
// 429 {"message":"too many requests"}. It keys on r.RemoteAddr, so place it
// after chi's RealIP middleware when running behind a proxy.
func RateLimit(limiter *IPRateLimiter, recorder RateLimitRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !limiter.Allow(ip) {
				if recorder != nil {
					recorder.RecordRateLimited()
				}
				w.Header().Set("Retry-After", "1")
				writeMessage(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
