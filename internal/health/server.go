package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminServerConfig holds configuration for the admin HTTP server.
type AdminServerConfig struct {
	// Enabled indicates whether the admin server should run.
	Enabled bool

	// Port is the port to listen on.
	Port int

	// MetricsPath is the path to serve Prometheus metrics on.
	MetricsPath string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
}

// DefaultAdminServerConfig returns the default admin server configuration.
func DefaultAdminServerConfig() AdminServerConfig {
	return AdminServerConfig{
		Enabled:      true,
		Port:         9090,
		MetricsPath:  "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// AdminServer serves Prometheus metrics plus the orchestrator's control
// endpoints (manual trigger, status).
type AdminServer struct {
	config   AdminServerConfig
	server   *http.Server
	handlers map[string]http.Handler
}

// NewAdminServer creates a new admin server.
func NewAdminServer(config AdminServerConfig) *AdminServer {
	return &AdminServer{
		config:   config,
		handlers: make(map[string]http.Handler),
	}
}

// Handle registers an extra endpoint. Must be called before Start.
func (s *AdminServer) Handle(path string, handler http.Handler) {
	s.handlers[path] = handler
}

// Start starts the admin HTTP server.
func (s *AdminServer) Start() error {
	if !s.config.Enabled {
		return nil
	}

	// Initialize metrics if not already done
	InitMetrics()

	mux := http.NewServeMux()
	mux.Handle(s.config.MetricsPath, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	for path, handler := range s.handlers {
		mux.Handle(path, handler)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't crash - the admin surface is non-critical
			fmt.Printf("admin server error: %v\n", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *AdminServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the server address.
func (s *AdminServer) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}
