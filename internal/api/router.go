// Package api wires the HTTP routes of the billing service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jamibilling/rdn-billing/internal/api/handlers"
	"github.com/jamibilling/rdn-billing/internal/api/middleware"
	"github.com/jamibilling/rdn-billing/pkg/logger"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	// CORS settings
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int

	// RequestTimeout bounds every request. Extraction walks the portal
	// page by page, so it must cover a full case.
	RequestTimeout time.Duration

	// Rate limiting
	EnableRateLimiting bool
	RateLimitConfig    middleware.RateLimitConfig

	// SignedURLTTL is the lifetime of artifact download links.
	SignedURLTTL time.Duration
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Content-Type", "X-Request-ID", handlers.SessionHeader},
		ExposedHeaders:     []string{"X-Request-ID", handlers.SessionHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Content-Disposition"},
		AllowCredentials:   false,
		MaxAge:             300,
		RequestTimeout:     10 * time.Minute,
		EnableRateLimiting: true,
		RateLimitConfig:    middleware.DefaultRateLimitConfig(),
		SignedURLTTL:       time.Hour,
	}
}

// Dependencies holds all dependencies required by the API handlers.
type Dependencies struct {
	Logger         *logger.Logger
	Cases          handlers.CaseService
	ObjectStorage  handlers.ObjectStorage
	Exporter       handlers.Exporter
	RateLimitStore middleware.RateLimitStore
	WSHub          http.Handler
	// Checkers are reported by /ready. Leave out what is not configured.
	Checkers map[string]handlers.HealthChecker
}

// NewRouter creates and configures a new Chi router with all middleware and routes.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("http")

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Context)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   config.AllowedMethods,
		AllowedHeaders:   config.AllowedHeaders,
		ExposedHeaders:   config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}))

	var rateLimiter *middleware.RateLimiter
	if config.EnableRateLimiting {
		store := deps.RateLimitStore
		if store == nil {
			store = middleware.NewMemoryRateLimitStore()
		}
		rateLimiter = middleware.NewRateLimiter(store, config.RateLimitConfig, log)
	}
	limit := func(r chi.Router, limitType string) {
		if rateLimiter != nil {
			r.Use(rateLimiter.Middleware(limitType))
		}
	}

	// Health routes and the event stream are neither rate limited nor
	// bounded by the request timeout.
	r.Get("/health", handlers.HealthCheck())
	r.Get("/ready", handlers.ReadyCheck(deps.Checkers))
	if deps.WSHub != nil {
		r.Handle("/ws", deps.WSHub)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.RequestTimeout))

		r.Group(func(r chi.Router) {
			limit(r, middleware.LimitLogin)
			r.Post("/login", handlers.HandleLogin(deps.Cases, log))
			r.Delete("/session", handlers.HandleLogout(deps.Cases, log))
		})

		r.Group(func(r chi.Router) {
			limit(r, middleware.LimitExtract)
			r.Post("/cases/{caseID}/extract", handlers.HandleExtract(deps.Cases, log))
		})

		r.Group(func(r chi.Router) {
			limit(r, middleware.LimitLookup)
			r.Get("/results", handlers.HandleResults(deps.Cases, log))
			r.Get("/fees/lookup", handlers.HandleFeeLookup(deps.Cases, log))
		})

		r.Group(func(r chi.Router) {
			limit(r, middleware.LimitExport)
			r.Get("/cases/{caseID}/export", handlers.HandleExportCSV(deps.Cases, log))
			r.Post("/cases/{caseID}/export", handlers.HandleExportUpload(deps.Cases, deps.Exporter, log))
			r.Get("/debug/{caseID}", handlers.HandleDebugArtifacts(deps.ObjectStorage, config.SignedURLTTL, log))
		})
	})

	return r
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration. WriteTimeout
// is left at zero so that long extractions and the WebSocket stream are
// bounded by the router instead.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer creates a new HTTP server.
func NewServer(handler http.Handler, config ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              formatAddr(config.Host, config.Port),
			Handler:           handler,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
		logger: log.WithComponent("http_server"),
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// formatAddr formats host and port into an address string.
func formatAddr(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
