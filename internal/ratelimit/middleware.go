package ratelimit

import (
	"net"
	"net/http"
	"strconv"
)

// KeyFunc derives the bucket key for a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the host of the remote address. Forwarding
// headers are ignored; behind a trusted proxy, chi's RealIP middleware
// rewrites RemoteAddr before this runs.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces limiter on every request, keyed by key.
//
// Rate-limit headers are set on every limited response:
//
//	X-RateLimit-Limit     maximum requests allowed in the window
//	X-RateLimit-Remaining tokens remaining in the current window
//	X-RateLimit-Reset     Unix timestamp when the bucket is fully replenished
//
// Rejected requests get a plain-text 429 with Retry-After, since the
// collection pages are browser-facing. onReject callbacks run before the
// response is written.
func Middleware(limiter *Limiter, key KeyFunc, onReject ...func()) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			k := key(r)
			allowed := limiter.Allow(k)
			limit, remaining, resetAt := limiter.Status(k)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				for _, fn := range onReject {
					fn()
				}
				retry := int(resetAt.Sub(limiter.now()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "Too many requests. Try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
