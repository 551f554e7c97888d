package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"charityledger/observability"
)

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter applies a token bucket per client address. A non-positive rate
// disables limiting.
type rateLimiter struct {
	perSecond  rate.Limit
	burst      int
	trustProxy bool

	mu       sync.Mutex
	visitors map[string]*visitor
	nowFn    func() time.Time
}

func newRateLimiter(perSecond float64, burst int, trustProxy bool) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		perSecond:  rate.Limit(perSecond),
		burst:      burst,
		trustProxy: trustProxy,
		visitors:   make(map[string]*visitor),
		nowFn:      time.Now,
	}
}

func (l *rateLimiter) allow(source string) bool {
	if l == nil || l.perSecond <= 0 {
		return true
	}
	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, id)
		}
	}
	v, ok := l.visitors[source]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[source] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source := clientSource(r, l.trustProxy)
		if !l.allow(source) {
			observability.ModuleMetrics().RecordThrottle("rpc", "rate_limit")
			w.Header().Set("Content-Type", "application/json")
			writeError(w, nil, newError(http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded", source))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientSource identifies the caller. X-Forwarded-For is only honoured when
// the server is configured to sit behind a trusted proxy.
func clientSource(r *http.Request, trustProxy bool) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); trustProxy && forwarded != "" {
		candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if candidate != "" {
			return candidate
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
