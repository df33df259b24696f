package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sonarbridge/sonarbridge/internal/config"
	"github.com/sonarbridge/sonarbridge/internal/http/middleware"
	"github.com/sonarbridge/sonarbridge/internal/observability"
	"github.com/sonarbridge/sonarbridge/internal/telemetry"
)

// Server represents the HTTP server.
type Server struct {
	config      config.ServerConfig
	handler     *Handler
	metrics     *telemetry.Metrics
	middlewares middleware.Middleware
	srv         *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.ServerConfig,
	handler *Handler,
	metrics *telemetry.Metrics,
	middlewares middleware.Middleware,
) *Server {
	return &Server{
		config:      *cfg,
		handler:     handler,
		metrics:     metrics,
		middlewares: middlewares,
		srv:         nil,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("/v1/chat/completions", s.handler.HandleChatCompletion)
	mux.HandleFunc("/v1/models", s.handler.HandleListModels)
	mux.HandleFunc("/v1/models/refresh", s.handler.HandleRefreshModels)
	mux.HandleFunc("/conversations", s.handler.HandleListConversations)
	mux.HandleFunc("/stats", s.handler.HandleStats)
	mux.HandleFunc("/health", s.handler.HandleHealth)
	mux.Handle("/metrics", s.metrics.Handler())

	// Apply middleware chain.
	handlerWithMiddleware := s.middlewares(mux)

	// Create server with timeouts. Write timeout is generous: streamed
	// turns hold the response open until the upstream finishes.
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      handlerWithMiddleware,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	ctx := context.Background()
	observability.FromContext(ctx).Info("starting HTTP server", observability.Int("port", s.config.Port))

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	observability.FromContext(ctx).Info("shutting down HTTP server")

	if s.srv == nil {
		return nil
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
