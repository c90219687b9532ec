// Package api provides the HTTP API server and handlers for the ShelfNotes
// web client.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/config"
	"github.com/shelfnotes/shelfnotes-server/internal/sse"
	"github.com/shelfnotes/shelfnotes-server/internal/visitor"
)

// APIVersion is reported in the OpenAPI document.
const APIVersion = "1.0.0"

// Options holds the dependencies of a Server.
type Options struct {
	Config   *config.Config
	Services *Services
	Provider backend.Provider
	Visitors *visitor.Registry
	Events   *sse.Manager
	Logger   *slog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	cfg             *config.Config
	services        *Services
	provider        backend.Provider
	visitors        *visitor.Registry
	sseManager      *sse.Manager
	sseHandler      *sse.Handler
	router          *chi.Mux
	api             huma.API
	logger          *slog.Logger
	authRateLimiter *RateLimiter
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:             opts.Config,
		services:        opts.Services,
		provider:        opts.Provider,
		visitors:        opts.Visitors,
		sseManager:      opts.Events,
		router:          chi.NewRouter(),
		logger:          opts.Logger,
		authRateLimiter: NewRateLimiter(20, time.Minute, 10),
	}
	s.sseHandler = sse.NewHandler(opts.Events, visitorID, opts.Logger)

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig(opts.Config.Server.Name+" API", APIVersion)
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// Close stops background helpers owned by the server.
func (s *Server) Close() {
	s.authRateLimiter.Stop()
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.router.Use(middleware.Compress(5))
	s.router.Use(RateLimitMiddleware(s.authRateLimiter, isAuthAction, s.logger))
	s.router.Use(visitorMiddleware(s.visitors, s.cfg.Visitor, s.logger))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerInstanceRoutes()
	s.registerAuthRoutes()
	s.registerBookRoutes()
	s.registerReviewRoutes()
	s.registerGenreRoutes()
	s.registerUserRoutes()

	// The event stream is a raw handler; huma operations cannot stream.
	s.router.Get("/api/v1/events", s.sseHandler.ServeHTTP)
}
