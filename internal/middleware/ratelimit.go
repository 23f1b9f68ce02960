package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/wkm/cacheproxy/internal/ratelimit"
)

// rateLimitMiddleware adapts ratelimit.Limiter onto the admin HTTP
// surface. The proxy listener applies the same Limiter directly per
// connection — see internal/handler — so both paths share one limiter
// instance's state when constructed from the same config.
type rateLimitMiddleware struct {
	limiter  *ratelimit.Limiter
	capacity int
}

// NewRateLimit constructs the admin-surface rate limit middleware around an
// existing, non-nil Limiter (shared with the proxy listener). capacity is
// only reported in the X-RateLimit-Limit header; it does not size the
// limiter.
func NewRateLimit(limiter *ratelimit.Limiter, capacity int) Middleware {
	return &rateLimitMiddleware{limiter: limiter, capacity: capacity}
}

func (rl *rateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := clientIPFromRequest(r)

		if !rl.limiter.Allow(clientIP) {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.capacity))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("Rate limit exceeded"))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.capacity))
		next.ServeHTTP(w, r)
	})
}

// clientIPFromRequest extracts the client address for rate-limit
// bucketing, preferring proxy headers over the raw remote address.
func clientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return xff[:idx]
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
