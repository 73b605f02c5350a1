package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/intake"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. metrics and gatherer may be nil, in
// which case HTTP metrics and /metrics are left out.
func NewServer(cfg domain.ServerConfig, svc *pipeline.Service, metrics *telemetry.Metrics, gatherer prometheus.Gatherer, version string) *Server {
	handler := NewHandler(svc, intake.New(), version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	if metrics != nil {
		router.Use(MetricsMiddleware(metrics))
	}
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// No tenant required.
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/cases/evaluate", handler.Evaluate)
		r.Post("/cases/batch", handler.Batch)
		r.Get("/cases", handler.ListCases)
		r.Get("/cases/{id}", handler.GetCase)
		r.Patch("/cases/{id}/status", handler.ChangeCaseStatus)
		r.Delete("/cases/{id}", handler.DeleteCase)
		r.Get("/assessments/{id}", handler.GetAssessment)

		r.Get("/profiles", handler.ListProfiles)
		r.Get("/profiles/{name}", handler.GetProfile)
		r.Post("/profiles", handler.CreateProfile)
		r.Post("/profiles/reload", handler.ReloadProfiles)
		r.Delete("/profiles/{name}", handler.DeleteProfile)
	})

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
