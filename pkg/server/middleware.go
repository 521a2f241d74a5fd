package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/torii/pkg/apierror"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Plain ResponseWriter for SSE: chi's WrapResponseWriter would
		// hide http.Flusher. Status is not logged for that reason.
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoverer converts handler panics into the uniform error shape instead
// of chi's plain-text 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("Handler panicked", "panic", rec, "path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()))
				s.writeError(w, r, apierror.New(apierror.CodeInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	wildcard := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			wildcard = true
		}
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || allowed[origin]) {
				if wildcard {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError sends the uniform error shape. Internal details are only
// exposed in development.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.As(err)
	if apiErr.Code == apierror.CodeInternal && s.cfg.Environment == "development" && apiErr.Err != nil {
		apiErr = apiErr.WithDetails(map[string]any{"cause": apiErr.Err.Error()})
	}
	apiErr.WithRequestID(middleware.GetReqID(r.Context())).WriteHTTP(w)
}
