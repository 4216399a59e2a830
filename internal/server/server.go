// Package server provides the HTTP API for AcademiaOS sessions.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/config"
	"github.com/academiaos/academiaos/internal/extract"
	"github.com/academiaos/academiaos/internal/pipeline"
	"github.com/academiaos/academiaos/internal/session"
	"github.com/academiaos/academiaos/internal/telemetry"
)

// requestTimeout bounds every route except phase runs, which take as long as
// the model calls do.
const requestTimeout = 60 * time.Second

// PipelineFactory builds the pipeline for a session.
type PipelineFactory func(s *session.Session) (*pipeline.Pipeline, error)

// UsageSource reports aggregated model usage.
type UsageSource interface {
	Summary(ctx context.Context) ([]telemetry.UsageSummary, error)
}

// Server is the HTTP server for the AcademiaOS API.
type Server struct {
	store       session.Store
	newPipeline PipelineFactory
	importer    *extract.Importer
	usage       UsageSource
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
}

// NewServer creates a server with the given dependencies. usage may be nil
// when telemetry is disabled.
func NewServer(
	store session.Store,
	newPipeline PipelineFactory,
	importer *extract.Importer,
	usage UsageSource,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if importer == nil {
		importer = extract.NewImporter(logger)
	}
	return &Server{
		store:       store,
		newPipeline: newPipeline,
		importer:    importer,
		usage:       usage,
		config:      cfg,
		logger:      logger,
		pipelines:   make(map[string]*pipeline.Pipeline),
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(middleware.Compress(5))
			r.Get("/usage", s.handleUsage)
			r.Get("/sessions", s.handleListSessions)
			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Delete("/sessions/{id}", s.handleDeleteSession)
			r.Post("/sessions/{id}/papers", s.handleAddPapers)
			r.Get("/sessions/{id}/status", s.handleStatus)
			r.Get("/sessions/{id}/export.xlsx", s.handleExport)
		})
		r.Post("/sessions/{id}/run", s.handleRun)
		r.Post("/sessions/{id}/phases/{phase}", s.handleRunPhase)
	})
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

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// pipelineFor returns the cached pipeline of a session, building it on first use.
func (s *Server) pipelineFor(sess *session.Session) (*pipeline.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipelines[sess.ID()]; ok && p.Session() == sess {
		return p, nil
	}
	p, err := s.newPipeline(sess)
	if err != nil {
		return nil, err
	}
	s.pipelines[sess.ID()] = p
	return p, nil
}

func (s *Server) dropPipeline(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipelines[id]; ok {
		for _, ph := range pipeline.AllPhases {
			p.Cancel(ph)
		}
		delete(s.pipelines, id)
	}
}
