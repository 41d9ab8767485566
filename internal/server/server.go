// Package server is the HTTP transport for the backtest engine: a thin
// boundary adapter (request decode, pipeline wiring, response encode) over
// the core C1-C8 components, in the shape of the teacher's chi-based
// internal/server/server.go.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantdesk/backtest-engine/internal/cache"
	"github.com/quantdesk/backtest-engine/internal/config"
	"github.com/quantdesk/backtest-engine/internal/events"
	"github.com/quantdesk/backtest-engine/internal/indicators"
	"github.com/quantdesk/backtest-engine/internal/prices"
)

// earliestStartDate floors a requested "max" startDate; the engine has no
// concept of "as far back as the vendor has data" without asking the
// vendor, so this is a practical bound on how far the Price Fetcher will
// reach.
const earliestStartDate = "1970-01-01"

// Config holds server configuration.
type Config struct {
	Port       int
	Log        zerolog.Logger
	Cfg        *config.Config
	Cache      cache.Store
	Fetcher    *prices.Fetcher
	Indicators *indicators.Engine
	DevMode    bool
}

// Server is the HTTP server exposing POST /backtest and GET /health.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	cfg        *config.Config
	cacheStore cache.Store
	fetcher    *prices.Fetcher
	indicators *indicators.Engine
	events     *events.Manager
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		cfg:        cfg.Cfg,
		cacheStore: cfg.Cache,
		fetcher:    cfg.Fetcher,
		indicators: cfg.Indicators,
		events:     events.NewManager(cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/backtest", s.handleBacktest)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.portNumber()).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) portNumber() int {
	if s.cfg == nil {
		return 0
	}
	return s.cfg.Port
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
