package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/sentify/internal/domain"
	"github.com/opensource-finance/sentify/internal/scoring"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Deps are the components the handlers read from. Only Scoring and Model
// are required.
type Deps struct {
	Scoring *scoring.Service
	Model   ModelStatus
	Stats   StatsSource
	Cache   domain.Cache
	Bus     domain.EventBus
	Version string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps, cfg.MaxBodyBytes)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware())       // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Scoring
	router.Post("/predict", handler.Predict)

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Read-only introspection
	router.Get("/schema", handler.Schema)
	router.Get("/model", handler.Model)
	router.Get("/stats", handler.Stats)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
