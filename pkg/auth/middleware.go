package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/torii/pkg/apierror"
)

// Middleware enforces bearer authentication. A nil validator (auth
// disabled) passes every request through anonymously.
func Middleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				deny(w, r, "missing Authorization header")
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header || token == "" {
				deny(w, r, "Authorization header must be: Bearer <token>")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					deny(w, r, "token expired")
					return
				}
				deny(w, r, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole layers role checks on top of authenticated requests.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				deny(w, r, "authentication required")
				return
			}
			if !claims.HasAnyRole(roles...) {
				apierror.New(apierror.CodeAuthorization, "insufficient permissions").
					WithRequestID(middleware.GetReqID(r.Context())).
					WriteHTTP(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, message string) {
	apierror.New(apierror.CodeAuthentication, message).
		WithRequestID(middleware.GetReqID(r.Context())).
		WriteHTTP(w)
}
