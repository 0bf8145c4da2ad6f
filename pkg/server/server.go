// Package server is an embeddable HTTP server bundling Flowfile's full
// execution core (C1-C6) behind the gin-based HTTP/WS façade of spec.md §6.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/smilemakc/mbflow/internal/config"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// Server bundles the HTTP listener with the execution core it exposes.
type Server struct {
	config *config.Config
	logger *logger.Logger

	components *components
	router     *gin.Engine
	httpServer *http.Server
}

// New builds a Server from the given options, loading default config and a
// default logger for anything not supplied explicitly.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("server: load config: %w", err)
		}
		s.config = cfg
	}
	if s.logger == nil {
		s.logger = logger.New(s.config.Logging)
	}

	components, err := buildComponents(s.config, s.logger)
	if err != nil {
		return nil, err
	}
	s.components = components

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.config.Server.Host, fmt.Sprintf("%d", s.config.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	return s, nil
}

// Router exposes the underlying gin engine, mainly for tests that want to
// drive requests without a live listener.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the worker subprocess and artifact-eviction cron, serves HTTP
// until an interrupt or a listener error, then shuts down gracefully.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.components.startMaintenance(ctx, s.config, s.logger); err != nil {
		return err
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("flowfile server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server: listen: %w", err)
	case sig := <-shutdown:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer shutdownCancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the HTTP listener and releases every C1-C6 resource.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return closeErr
		}
	}
	return s.components.close()
}
