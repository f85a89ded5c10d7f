package principal

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/wisbric/tellerdesk/internal/apierr"
	"github.com/wisbric/tellerdesk/internal/httpserver"
)

// Middleware authenticates every request via the Resolver and, on success,
// stores the resulting Principal in the request context. Failed attempts
// are rate-limited per source IP.
func Middleware(resolver *Resolver, limiter *AuthRateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			if limiter != nil {
				result, err := limiter.Allowed(r.Context(), ip)
				if err != nil {
					logger.Warn("auth rate limiter unavailable, allowing request", "error", err)
				} else if !result.Allowed {
					w.Header().Set("Retry-After", result.RetryAt.Format(time.RFC1123))
					httpserver.RespondError(w, http.StatusUnauthorized, apierr.Unauthenticated, "too many failed authentication attempts")
					return
				}
			}

			p, err := resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				if limiter != nil && apierr.KindOf(err) == apierr.Unauthenticated {
					limiter.RecordFailure(r.Context(), ip)
				}
				logger.Warn("principal resolution failed", "error", err, "ip", ip)
				httpserver.RespondErr(w, err)
				return
			}

			ctx := NewContext(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
