package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// PrincipalFunc extracts the bucket key (client IP, user id, API key id...)
// from a request, mirroring the pack's auth-service PrincipalFunc type.
type PrincipalFunc func(r *http.Request) string

// PrincipalIP buckets by the X-Forwarded-For header value, used as sent,
// when present; otherwise by remote IP, stripping the port.
func PrincipalIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware wraps an http.Handler with a Rule, rejecting requests over the
// limit with 429 and a Retry-After header (spec.md §4.6, §8 boundary case:
// the (N+1)-th request in a window is rejected, the first of the next
// window succeeds).
func Middleware(limiter Limiter, rule Rule, principal PrincipalFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(r.Context(), rule, principal(r))
			if !allowed {
				writeTooManyRequests(w, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeTooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = fmt.Fprintf(w, `{"error":"rate_limited","message":"too many requests, retry after %ds"}`, seconds)
}
