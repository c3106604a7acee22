// Package server exposes the ingestion and retrieval HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pitilt.dev/server/internal/store"
	"pitilt.dev/server/pkg/metrics"
	"pitilt.dev/server/pkg/tilt"
)

// Store is the persistence surface the HTTP handlers depend on.
type Store interface {
	ResolveAccount(ctx context.Context, apiKey string) (*store.Account, error)
	SaveReadings(ctx context.Context, accountID string, batch []tilt.Reading) error

	ListPlots(ctx context.Context, accountID string) ([]store.Plot, error)
	GetPlot(ctx context.Context, accountID string, plotID uint) (*store.Plot, error)
	CreatePlot(ctx context.Context, accountID string, plot *store.Plot) error
	UpdatePlot(ctx context.Context, accountID string, plot *store.Plot) (*store.Plot, error)
	DeletePlot(ctx context.Context, accountID string, plotID uint) error

	CreateInstrument(ctx context.Context, accountID string, plotID uint, instrument *store.Instrument) error
	DeleteInstrument(ctx context.Context, accountID string, plotID, instrumentID uint) error

	CreateShareLink(ctx context.Context, accountID string, plotID uint) (*store.ShareLink, error)
	ResolveShareLink(ctx context.Context, token string) (uint, error)

	PlotData(ctx context.Context, access store.Access, plotID uint, from, to *time.Time) ([]store.Reading, error)
	LatestPlotData(ctx context.Context, access store.Access, plotID uint) ([]store.Reading, error)
}

// Server represents the API HTTP server.
type Server struct {
	logger        *slog.Logger
	store         Store
	httpServer    *http.Server
	metricsServer *http.Server
	metrics       *metrics.ServerMetrics
	config        *ServerConfig
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger
	Store  Store

	// HTTP server configuration
	HTTPPort int

	// Metrics listener configuration; zero disables the metrics server.
	MetricsPort int
}

// NewServer creates a new API Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	return &Server{
		logger: cfg.Logger,
		store:  cfg.Store,
		config: cfg,
	}, nil
}

// SetMetrics attaches server metrics. Must be called before Run; nil leaves
// instrumentation disabled.
func (s *Server) SetMetrics(m *metrics.ServerMetrics) {
	if s == nil {
		return
	}
	s.metrics = m
}

// Handler returns the routed API handler without starting listeners.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Run starts the API server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Create HTTP router
	mux := s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	// Start HTTP server in goroutine
	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	// Start metrics server in goroutine
	metricsErr := make(chan error, 1)
	if s.config.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", metrics.Handler())
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		s.logger.Info("starting metrics server", "address", s.metricsServer.Addr)
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- fmt.Errorf("metrics server error: %w", err)
			}
			close(metricsErr)
		}()
	}

	s.logger.Info("server started successfully")

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	case err := <-metricsErr:
		if err != nil {
			s.logger.Error("metrics server error", "error", err)
			cancel()
			return err
		}
	}

	// Shutdown
	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down server")

	var shutdownErr error

	// Shutdown HTTP server
	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
	}

	// Shutdown metrics server
	if s.metricsServer != nil {
		s.logger.Info("stopping metrics server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown metrics server", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; metrics server shutdown error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			}
		}
		s.logger.Info("metrics server stopped")
	}

	if shutdownErr != nil {
		s.logger.Error("server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("server shutdown completed successfully")
	return nil
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Ingestion
	mux.HandleFunc("POST /data", s.instrument("ingest", s.handleIngest))

	// Plot management
	mux.HandleFunc("GET /plots", s.instrument("list_plots", s.handleListPlots))
	mux.HandleFunc("POST /plots", s.instrument("create_plot", s.handleCreatePlot))
	mux.HandleFunc("GET /plots/{plotId}", s.instrument("get_plot", s.handleGetPlot))
	mux.HandleFunc("PUT /plots/{plotId}", s.instrument("update_plot", s.handleUpdatePlot))
	mux.HandleFunc("DELETE /plots/{plotId}", s.instrument("delete_plot", s.handleDeletePlot))

	// Instrument management
	mux.HandleFunc("POST /plots/{plotId}/instruments", s.instrument("create_instrument", s.handleCreateInstrument))
	mux.HandleFunc("DELETE /plots/{plotId}/instruments/{instrumentId}", s.instrument("delete_instrument", s.handleDeleteInstrument))

	// Plot data retrieval
	mux.HandleFunc("GET /plots/{plotId}/data", s.instrument("plot_data", s.handlePlotData))
	mux.HandleFunc("GET /plots/{plotId}/data/latest", s.instrument("latest_plot_data", s.handleLatestPlotData))

	// Sharing
	mux.HandleFunc("POST /plots/{plotId}/share", s.instrument("create_share", s.handleCreateShareLink))
	mux.HandleFunc("GET /shared/{token}/data", s.instrument("shared_data", s.handleSharedData))
	mux.HandleFunc("GET /shared/{token}/data/latest", s.instrument("shared_latest_data", s.handleSharedLatestData))

	return mux
}
