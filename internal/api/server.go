// Package api exposes the job lifecycle over HTTP.
//
// Routes:
//
//	POST /jobs                          start a job            202 {job_id}
//	GET  /jobs                          list summaries
//	GET  /jobs/{id}                     summary
//	GET  /jobs/{id}/result              final state            404 | 409
//	GET  /jobs/{id}/progress            pull snapshot
//	GET  /jobs/{id}/events              server-sent events
//	POST /jobs/{id}/cancel              cancel                 202
//	GET  /jobs/{id}/validation          gate report
//	POST /jobs/{id}/artifacts?format=   generate artifact      201 | 422
//	GET  /healthz
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/casework/internal/artifact"
	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/jobs"
	"github.com/roach88/casework/internal/progress"
	"github.com/roach88/casework/internal/task"
)

// Jobs is the lifecycle surface the API serves. *jobs.Manager implements it.
type Jobs interface {
	Start(ctx context.Context, params task.Params) (string, error)
	Get(ctx context.Context, id string) (jobs.Summary, error)
	List(ctx context.Context, statuses ...task.JobStatus) ([]jobs.Summary, error)
	Result(ctx context.Context, id string) (jobs.Result, error)
	Cancel(ctx context.Context, id string) error
	Progress(ctx context.Context, id string) (progress.Snapshot, error)
	Subscribe(ctx context.Context, id string) (progress.Snapshot, progress.Subscription, error)
	Events(ctx context.Context, id string, afterSeq int64) ([]progress.Event, error)
	Validate(ctx context.Context, id string) (gate.Report, error)
	Generate(ctx context.Context, id string, gen artifact.Generator) (string, gate.Report, error)
}

// ServerStatus reports the lifecycle state of the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Server serves the job API.
type Server struct {
	jobs       Jobs
	generators map[string]artifact.Generator
	heartbeat  time.Duration
	clock      func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithGenerator registers an artifact generator under its Kind.
func WithGenerator(g artifact.Generator) Option {
	return func(s *Server) {
		if g != nil {
			s.generators[g.Kind()] = g
		}
	}
}

// WithHeartbeat sets the interval of keep-alive comments on event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a server over j.
func New(j Jobs, opts ...Option) *Server {
	s := &Server{
		jobs:       j,
		generators: map[string]artifact.Generator{},
		heartbeat:  15 * time.Second,
		clock:      time.Now,
		status:     StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Get("/result", s.handleResult)
			r.Get("/progress", s.handleProgress)
			r.Get("/events", s.handleEvents)
			r.Post("/cancel", s.handleCancel)
			r.Get("/validation", s.handleValidation)
			r.Post("/artifacts", s.handleArtifact)
		})
	})
	return r
}

// Start binds addr and serves in the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("api: server already started")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api serve failed", "error", err)
		}
	}()
	slog.Info("api listening", "addr", listener.Addr().String())
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	s.status = StatusDraining
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	s.server = nil
	s.listener = nil
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}
