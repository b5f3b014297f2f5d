// Package api serves snapshots, summaries and builds over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/monitoring"
	"github.com/makerspace/member-success/internal/outreach"
	"github.com/makerspace/member-success/internal/snapshot"
	"github.com/makerspace/member-success/internal/store"
)

// Builder is the subset of snapshot.Builder used by the API.
type Builder interface {
	BuildOne(ctx context.Context, memberID int64, opts snapshot.Options) (*model.Snapshot, error)
	BuildDaily(ctx context.Context, opts snapshot.Options) (*model.SnapshotRun, error)
}

// Config holds HTTP server settings.
type Config struct {
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// Server wires HTTP handlers to the builder and store.
type Server struct {
	builder   Builder
	store     store.Store
	collector *monitoring.Collector
	templates outreach.Templates
	cfg       Config

	// Background builds outlive the request that started them.
	baseCtx  context.Context
	building atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a Server. Background builds run under ctx.
func NewServer(ctx context.Context, builder Builder, st store.Store, templates outreach.Templates, cfg Config) *Server {
	return &Server{
		builder:   builder,
		store:     st,
		collector: monitoring.NewCollector(st),
		templates: templates,
		cfg:       cfg,
		baseCtx:   ctx,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Post("/snapshots/build", s.handleBuildDaily)
		r.Get("/snapshots", s.handleListSnapshots)
		r.Get("/summary", s.handleSummary)
		r.Get("/runs", s.handleListRuns)
		r.Get("/export", s.handleExport)

		r.Route("/members/{id}", func(r chi.Router) {
			r.Post("/snapshot", s.handleBuildMember)
			r.Get("/snapshot", s.handleGetMemberSnapshot)
			r.Get("/snapshots", s.handleMemberHistory)
		})
	})

	return r
}

// Wait blocks until background builds started by the server finish.
func (s *Server) Wait() {
	s.wg.Wait()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
