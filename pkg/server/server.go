// Package server is the HTTP boundary: the chi router, the middleware
// chain, and the handlers that translate between JSON/SSE and the engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/torii/pkg/agent"
	"github.com/kadirpekel/torii/pkg/auth"
	"github.com/kadirpekel/torii/pkg/config"
	"github.com/kadirpekel/torii/pkg/crypto"
	"github.com/kadirpekel/torii/pkg/observability"
	"github.com/kadirpekel/torii/pkg/prompts"
	"github.com/kadirpekel/torii/pkg/ratelimit"
	"github.com/kadirpekel/torii/pkg/tools"
)

// Dependencies carries everything the handlers need. Validator and Limiter
// may be nil (auth/rate limiting disabled).
type Dependencies struct {
	Engine    *agent.Engine
	Enhancer  *prompts.Enhancer
	Services  *tools.Registry
	Cipher    *crypto.Cipher
	Validator *auth.JWTValidator
	Limiter   *ratelimit.Limiter
	Obs       *observability.Manager
}

// Server owns the listener and the routing table.
type Server struct {
	cfg  *config.Config
	deps Dependencies
	http *http.Server
}

func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Engine == nil || deps.Services == nil {
		return nil, fmt.Errorf("engine and services are required")
	}
	if deps.Obs == nil {
		deps.Obs = observability.NewManager(config.ObservabilityConfig{})
	}

	s := &Server{cfg: cfg, deps: deps}
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE responses outlive any fixed bound; the
		// engine's wall clock and the bus idle timeout bound streams.
	}
	return s, nil
}

// Router assembles the middleware chain and routes. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(s.recoverer)
	r.Use(corsMiddleware(s.cfg.Server.CORSOrigins))

	// Operational endpoints stay outside auth so probes and scrapers
	// need no credentials.
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			// Validator is a concrete pointer: passing it to the
			// middleware while nil would produce a typed-nil interface
			// that defeats the disabled-auth passthrough.
			if s.deps.Validator != nil {
				r.Use(auth.Middleware(s.deps.Validator))
			}
			r.Use(ratelimit.Middleware(s.deps.Limiter))

			r.Post("/chat", s.handleChat)
			r.Post("/chat/stream", s.handleChatStream)
			r.Post("/enhance-prompt", s.handleEnhancePrompt)

			r.Get("/services", s.handleListServices)
			r.Get("/services/{class}/tools", s.handleServiceTools)
			r.Post("/services/{class}/execute", s.handleExecuteTool)
		})
	})

	return r
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.http.Addr, "environment", s.cfg.Environment)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
