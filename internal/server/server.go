// Package server provides the HTTP API for knowledge base search and ingestion.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/kbsearch/internal/config"
	"github.com/hyperjump/kbsearch/internal/extract"
	"github.com/hyperjump/kbsearch/internal/indexer"
	"github.com/hyperjump/kbsearch/internal/metrics"
	"github.com/hyperjump/kbsearch/internal/search"
)

// WatchService manages watched folders at runtime. Implemented by *watcher.Watcher.
type WatchService interface {
	Roots() []config.WatchRoot
	AddRoot(root config.WatchRoot, syncExisting bool) error
	RemoveRoot(path string) error
}

// Server is the HTTP server for the search API.
type Server struct {
	engine      *search.Engine
	coordinator *indexer.Coordinator
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server
	maxBody     int64

	watch      WatchService
	configPath string
	appConfig  *config.Config
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithWatch enables the watch roots API. When configPath and cfg are set, root
// changes are persisted to the config file.
func WithWatch(w WatchService, configPath string, cfg *config.Config) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
		s.appConfig = cfg
	}
}

// WithMaxBodyBytes limits the size of document ingestion request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	coordinator *indexer.Coordinator,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		engine:      engine,
		coordinator: coordinator,
		config:      cfg,
		logger:      logger,
		maxBody:     extract.MaxSize(extract.FormatText),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Handler returns the router with every API route mounted.
func (s *Server) Handler() http.Handler {
	metrics.Register()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/collections", s.handleStatistics)
		r.Route("/collections/{bot}/{kb}", func(r chi.Router) {
			r.Get("/", s.handleCollectionStats)
			r.Delete("/", s.handleDeleteCollection)
			r.Post("/reindex", s.handleReindex)
			r.Post("/documents", s.handleIngestDocument)
			r.Delete("/documents", s.handleRemoveDocument)
		})
		r.Get("/watch/roots", s.handleWatchRootsList)
		r.Post("/watch/roots", s.handleWatchRootsAdd)
		r.Delete("/watch/roots", s.handleWatchRootsRemove)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
