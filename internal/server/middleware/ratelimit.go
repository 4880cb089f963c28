package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// RateLimit returns middleware that limits each client IP to limit requests
// per window. A request carrying X-Account is also counted against that
// account, so rotating the header never lifts the IP limit. Proxy headers
// are only trusted when trustProxy is set. Limiter errors fail open.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, key := range limitKeys(r, trustProxy) {
				allowed, err := limiter.Allow(r.Context(), key, limit, window)
				if err != nil {
					logger.WarnContext(r.Context(), "rate limiter unavailable", slog.String("error", err.Error()))
					break
				}
				if !allowed {
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.Header().Set("Retry-After", strconv.Itoa(max(1, int(window.Seconds()))))
					w.WriteHeader(http.StatusTooManyRequests)
					w.Write([]byte(`{"error":"` + domain.ErrRateLimited.Error() + `"}`))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitKeys returns the IP key first, then the account key when present.
// The limiter adds its own namespace prefix.
func limitKeys(r *http.Request, trustProxy bool) []string {
	keys := []string{"api:ip:" + clientIP(r, trustProxy)}
	if acct := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Account"))); acct != "" {
		keys = append(keys, "api:acct:"+acct)
	}
	return keys
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		return extractClientIP(r)
	}
	return remoteHost(r)
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
