package ratelimit

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/torii/pkg/apierror"
	"github.com/kadirpekel/torii/pkg/auth"
)

// Middleware rejects over-budget requests with 429 and a Retry-After
// header. Callers are identified by their JWT subject when authenticated,
// falling back to the client IP. A nil limiter (disabled) passes through.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := callerIdentifier(r)

			decision, err := limiter.Allow(r.Context(), identifier)
			if err != nil {
				slog.Error("Rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				retryAfter := int64(math.Ceil(decision.RetryAfter.Seconds()))
				apierror.New(apierror.CodeRateLimitExceeded, decision.Reason).
					WithDetails(map[string]any{"retry_after_seconds": retryAfter}).
					WithRequestID(middleware.GetReqID(r.Context())).
					WriteHTTP(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func callerIdentifier(r *http.Request) string {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return r.RemoteAddr
}
