// Package api is the HTTP surface of the background studio: workflow
// transitions, per-user history, the catalog and a health check, routed
// with gorilla/mux.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bgstudio/logging"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind, empty for all interfaces.
	Host string
	Port int

	ReadTimeout time.Duration
	// WriteTimeout must outlast the slowest generate call.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// LogSkipPaths are not request-logged.
	LogSkipPaths []string
}

// DefaultServerConfig returns the defaults used when main has no overrides.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		LogSkipPaths: []string{"/api/health"},
	}
}

// Server owns the http.Server and its router.
//
// Example:
//
//	srv := api.NewServer(api.DefaultServerConfig(), handlers, logger)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logging.Logger
}

// NewServer mounts handlers on a fresh router wrapped in request logging.
func NewServer(cfg ServerConfig, handlers *Handlers, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	loggingMw := NewLoggingMiddleware(logger, cfg.LogSkipPaths...)

	s := &Server{
		router: router,
		logger: logger.Named("server"),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           loggingMw.Handler(router),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until
// ctx is done. It matches core.ShutdownFunc.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
