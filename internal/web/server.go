// Package web exposes the chat orchestrator over HTTP: a streaming
// /api/chat endpoint plus health and metrics.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/mailpilot/internal/agent"
	"github.com/haasonsaas/mailpilot/internal/observability"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DefaultProvider is used when a chat request names no provider.
	DefaultProvider string
}

// Server routes chat requests to per-provider agent controllers.
type Server struct {
	httpServer      *http.Server
	controllers     map[string]*agent.Controller
	defaultProvider string
	logger          *slog.Logger
	metrics         *observability.Metrics
}

// NewServer creates the HTTP server. controllers maps provider names
// ("anthropic", "openai") to their loop controllers; at least one entry is
// required. metrics may be nil.
func NewServer(cfg ServerConfig, controllers map[string]*agent.Controller, logger *slog.Logger, metrics *observability.Metrics) (*Server, error) {
	if len(controllers) == 0 {
		return nil, fmt.Errorf("at least one provider controller is required")
	}
	if _, ok := controllers[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q has no controller", cfg.DefaultProvider)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		controllers:     controllers,
		defaultProvider: cfg.DefaultProvider,
		logger:          logger,
		metrics:         metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
