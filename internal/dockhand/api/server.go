// Package api is the HTTP boundary: it marshals requests into orchestrator
// calls and state into JSON responses. No lifecycle logic lives here.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"dockhand/internal/dockhand/events"
	"dockhand/internal/dockhand/orchestrator"
)

//go:embed schema/task-spec.json
var taskSpecSchema string

// maxBodyBytes bounds create-request bodies.
const maxBodyBytes = 1 << 20

// Server serves the task API.
type Server struct {
	orch      *orchestrator.Orchestrator
	events    *events.Log
	schema    *jsonschema.Schema
	router    chi.Router
	startedAt time.Time
	server    *http.Server
}

// New builds the server and its routes. ev may be nil; the events endpoint
// then reports an empty history.
func New(orch *orchestrator.Orchestrator, ev *events.Log) *Server {
	s := &Server{
		orch:      orch,
		events:    ev,
		schema:    jsonschema.MustCompileString("task-spec.json", taskSpecSchema),
		startedAt: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreate)
			r.Get("/", s.handleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handleRemove)
				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Get("/logs", s.handleLogs)
			})
		})
		r.Get("/events", s.handleEvents)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler so the server is testable with
// httptest.NewRecorder.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening in the background. It blocks until the listener is
// established and shuts down when ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("api shutdown error", "err", err)
	}
}

// writeJSON serializes v to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response failed", "err", err)
	}
}
