// Package api exposes the detection and case-management HTTP surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fuelops/sentinel/internal/accuracy"
	"github.com/fuelops/sentinel/internal/cases"
	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/engine"
	"github.com/fuelops/sentinel/internal/provider"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(
	cfg domain.ServerConfig,
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	eng *engine.Engine,
	caseMgr *cases.Manager,
	registry *provider.Registry,
	tracker *accuracy.Tracker,
	rules *provider.RuleProvider,
	patterns *provider.PatternProvider,
	version string,
) *Server {
	handler := NewHandler(repo, cache, bus, eng, caseMgr, registry, tracker, rules, patterns, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Detection
	router.Post("/detect/{domain}", handler.Detect)

	// Case management
	router.Get("/cases", handler.ListCases)
	router.Get("/cases/{id}", handler.GetCase)
	router.Post("/cases/{id}/status", handler.UpdateCaseStatus)

	// Observability
	router.Get("/accuracy", handler.Accuracy)
	router.Get("/providers", handler.Providers)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Pattern management
	router.Get("/patterns", handler.ListPatterns)
	router.Post("/patterns", handler.CreatePattern)
	router.Post("/patterns/reload", handler.ReloadPatterns)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
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
