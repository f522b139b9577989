// Package api is the operational HTTP surface of a running covdiff
// process: liveness and readiness checks, Prometheus metrics and background
// job control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"covdiff/internal/jobs"
)

// Pinger checks that a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	addr    string
	logger  *slog.Logger
	store   Pinger
	runner  *jobs.Runner
	started time.Time
}

// NewServer creates a new HTTP server instance. runner may be nil when no
// background jobs run in this process.
func NewServer(addr string, store Pinger, runner *jobs.Runner, logger *slog.Logger) *Server {
	s := &Server{
		addr:    addr,
		logger:  logger,
		store:   store,
		runner:  runner,
		router:  http.NewServeMux(),
		started: time.Now(),
	}

	s.registerRoutes()

	handler := s.applyMiddleware(s.router)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server shut down successfully")
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	return chain(handler,
		RequestIDMiddleware(),
		LoggingMiddleware(s.logger),
		RecoveryMiddleware(s.logger),
	)
}
