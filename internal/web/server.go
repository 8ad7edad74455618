// Package web exposes the JSON API and the OAuth redirect endpoints the
// browser composer talks to.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hyperyapper/internal/config"
	"hyperyapper/internal/logging"
)

// Server wraps the HTTP server around a configured Handler.
type Server struct {
	cfg        *config.Config
	handler    *Handler
	httpServer *http.Server
}

// NewServer creates a server for the given handler.
func NewServer(cfg *config.Config, handler *Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// Start runs the HTTP server in a goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	s.handler.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: mux,
		// No WriteTimeout: POST /api/post streams progress for as long as
		// the slowest platform takes, including the Threads publish delay.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	logging.Info("Starting web server on %s", s.cfg.ListenAddr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Web server failed: %v", err)
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	logging.Info("Shutting down web server...")
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
