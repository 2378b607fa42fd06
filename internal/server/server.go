// Package server provides the HTTP JSON boundary of the content index.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bryan-buckman/curio/internal/database"
	"github.com/bryan-buckman/curio/internal/feedsync"
	"github.com/bryan-buckman/curio/internal/ingest"
	"github.com/bryan-buckman/curio/internal/logging"
)

// maxBodyBytes bounds ingest and import request bodies.
const maxBodyBytes = 16 << 20

// Options configures the server.
type Options struct {
	Logger        *logging.Logger
	DefaultSource string
	// PollInterval enables the background channel poller when positive.
	PollInterval time.Duration
	Fetch        feedsync.Options
}

// Server is the main HTTP server.
type Server struct {
	db       database.Store
	pipeline *ingest.Pipeline
	fetcher  *feedsync.Fetcher
	poller   *feedsync.Poller
	router   chi.Router
	log      *logging.Logger
	opts     Options

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// New creates a new server.
func New(db database.Store, opts Options) *Server {
	log := logging.OrNop(opts.Logger)
	pipeline := ingest.New(db, log)
	fetcher := feedsync.NewFetcher(db, pipeline, opts.Fetch, log)
	s := &Server{
		db:       db,
		pipeline: pipeline,
		fetcher:  fetcher,
		log:      log.With("component", "http"),
		opts:     opts,
	}
	if opts.PollInterval > 0 {
		s.poller = feedsync.NewPoller(fetcher, opts.PollInterval, log)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)

		r.Get("/items", s.handleSearch)
		r.Delete("/items", s.handleDeleteItems)
		r.Get("/items/{itemID}", s.handleGetItem)
		r.Delete("/items/{itemID}", s.handleDeleteItem)
		r.Get("/items/{itemID}/summaries/{variant}", s.handleGetSummary)
		r.Get("/facets", s.handleFacets)

		r.Get("/channels", s.handleListChannels)
		r.Post("/channels", s.handleAddChannel)
		r.Delete("/channels/{channelID}", s.handleDeleteChannel)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
		r.Post("/refresh", s.handleRefresh)
	})

	s.router = r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	hs := s.http
	if s.poller != nil {
		s.poller.Start()
	}
	s.mu.Unlock()

	s.log.Info("Server starting", "addr", addr, "database", s.db.DatabaseType())
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the poller and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.http == nil {
		return nil
	}
	if s.poller != nil {
		s.poller.Stop()
	}
	return s.http.Shutdown(ctx)
}
