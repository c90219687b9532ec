package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shelfnotes/shelfnotes-server/internal/http/response"
	"github.com/shelfnotes/shelfnotes-server/internal/ratelimit"
)

// RateLimiter is the per-client limiter used by RateLimitMiddleware.
type RateLimiter = ratelimit.Keyed

// NewRateLimiter creates a new rate limiter.
// ratePerInterval requests are allowed per interval, with burst on top.
// For example: 20 per minute = 20/60 = 0.333 rps.
func NewRateLimiter(ratePerInterval int, interval time.Duration, burst int) *RateLimiter {
	rps := float64(ratePerInterval) / interval.Seconds()
	return ratelimit.New(rps, burst)
}

// RateLimitMiddleware creates a middleware that rate limits matching
// requests by client IP. Returns 429 Too Many Requests when the limit is
// exceeded. A nil match limits every request.
func RateLimitMiddleware(limiter *RateLimiter, match func(*http.Request) bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if match != nil && !match(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := getClientIP(r)
			if !limiter.Allow(key) {
				logger.Warn("Rate limit exceeded",
					"ip", key,
					"path", r.URL.Path,
				)
				response.TooManyRequests(w, "Too many requests. Please try again later.", logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isAuthAction matches the credential-handling endpoints.
func isAuthAction(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/v1/auth/")
}

// getClientIP extracts the client IP from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
