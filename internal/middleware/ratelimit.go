package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/darkden-lab/taskflow/internal/httputil"
)

const (
	limiterIdleTTL       = 3 * time.Minute
	limiterSweepInterval = time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (l *ipLimiter) touch(now time.Time) {
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
}

func (l *ipLimiter) idleSince(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastSeen)
}

// RateLimiter holds one token bucket per client IP and evicts idle ones.
type RateLimiter struct {
	limiters sync.Map
	rps      float64
	burst    int
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts the eviction loop. Call Stop when done.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	l := &RateLimiter{
		rps:    rps,
		burst:  burst,
		stopCh: make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *RateLimiter) get(ip string) *rate.Limiter {
	now := time.Now()

	if v, ok := l.limiters.Load(ip); ok {
		entry := v.(*ipLimiter)
		entry.touch(now)
		return entry.limiter
	}

	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst), lastSeen: now}
	actual, loaded := l.limiters.LoadOrStore(ip, entry)
	if loaded {
		existing := actual.(*ipLimiter)
		existing.touch(now)
		return existing.limiter
	}
	return entry.limiter
}

func (l *RateLimiter) cleanup() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			l.limiters.Range(func(key, value any) bool {
				if value.(*ipLimiter).idleSince(now) > limiterIdleTTL {
					l.limiters.Delete(key)
				}
				return true
			})
		case <-l.stopCh:
			return
		}
	}
}

// Stop ends the eviction loop.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Middleware enforces the limit, answering 429 when a client's bucket is
// empty.
func (l *RateLimiter) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.get(clientIP(r)).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware is a shorthand for NewRateLimiter(rps, burst).Middleware().
func RateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	return NewRateLimiter(rps, burst).Middleware()
}

// clientIP keys limiters on the connection's peer address. X-Forwarded-For
// is ignored since clients can set it freely.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
