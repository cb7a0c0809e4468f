// Package server provides the HTTP status server for the harvester.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/harvester/internal/clientdata"
	"github.com/aristath/harvester/internal/database"
	"github.com/aristath/harvester/internal/domain"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// HarvestRunner is the runner surface the server reports on and triggers
type HarvestRunner interface {
	Run(ctx context.Context) ([]harvest.Summary, error)
	Running() bool
	Status() harvest.RunnerStatus
}

// PoolInfo exposes credential pool state
type PoolInfo interface {
	Size() int
	Cursor() int
}

// StoreInfo exposes stored record counts and the sweep log
type StoreInfo interface {
	CountAll(ctx context.Context) (map[domain.ResourceKind]int, error)
	RecentSweeps(ctx context.Context, limit int) ([]clientdata.SweepRun, error)
}

// DBInfo exposes database health
type DBInfo interface {
	HealthCheck(ctx context.Context) error
	GetStats() (*database.Stats, error)
}

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	Addr    string
	DevMode bool
	Runner  HarvestRunner
	Pool    PoolInfo
	Store   StoreInfo
	DB      DBInfo
	Usage   func() map[string]int // per-credential requests today
	NextRun func() time.Time      // next scheduled harvest
	Metrics http.Handler
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	cfg     Config
	started time.Time

	// harvests triggered over HTTP run under this context
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		cfg:     cfg,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/sweeps", s.handleSweeps)
		r.Post("/harvest", s.handleTriggerHarvest)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and interrupts HTTP-triggered harvests
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.cancel()
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
