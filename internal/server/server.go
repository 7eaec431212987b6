package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/csm-api/internal/config"
	"github.com/book-expert/csm-api/internal/tts"
)

const (
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is the HTTP front of the service. It owns the listener, the
// middleware chain, and graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// New builds the server: endpoint handlers wrapped in recovery, logging,
// body-limit and auth middleware.
func New(cfg *config.Config, generator *tts.Generator, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	handler := NewHandler(generator, cfg.Auth.APIKey != "", log)
	handler.Register(mux)

	chain := Chain(
		RecoveryMiddleware(log),
		LoggingMiddleware(log),
		BodyLimitMiddleware(cfg.Server.MaxBodyBytes),
		AuthMiddleware(cfg.Auth.APIKey),
	)

	timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr(),
			Handler:      chain(mux),
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
			IdleTimeout:  idleTimeout,
		},
		log: log,
	}
}

// Addr returns the address the server binds to.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until the context is cancelled, then drains connections within
// the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.log.System("HTTP server listening on %s", s.httpServer.Addr)

		serveErr := s.httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", serveErr)

			return
		}

		errChan <- nil
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.log.System("Shutting down HTTP server")

	shutdownErr := s.httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	return <-errChan
}
