package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pushwire/pushwire-go/internal/logging"
	"github.com/pushwire/pushwire-go/internal/telemetry"
	"github.com/pushwire/pushwire-go/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config contains ops server configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Service name used for request tracing
	ServiceName string

	// Endpoint toggles
	EnableMetrics bool
	EnableTracing bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:          ":9090",
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   120 * time.Second,
		ServiceName:   "pushwire-bridge",
		EnableMetrics: true,
	}
}

// Transport exposes the connection health the ops endpoints report on
type Transport interface {
	IsConnected() bool
	GetStats() client.Stats
}

// Server serves the local operations endpoints: health, readiness,
// connection stats and Prometheus metrics
type Server struct {
	config    Config
	router    *chi.Mux
	server    *http.Server
	transport Transport
	logger    zerolog.Logger
}

// NewServer creates an ops server reporting on the given transport
func NewServer(config Config, transport Transport) *Server {
	logger := log.With().Str("component", "ops").Logger()

	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}

	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}

	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	if config.IdleTimeout == 0 {
		config.IdleTimeout = DefaultConfig().IdleTimeout
	}

	if config.ServiceName == "" {
		config.ServiceName = DefaultConfig().ServiceName
	}

	return &Server{
		config:    config,
		transport: transport,
		logger:    logger,
	}
}

// buildRouter assembles the chi router with middleware and routes
func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if s.config.EnableTracing {
		r.Use(telemetry.HTTPMiddleware(s.config.ServiceName))
	}
	r.Use(logging.RequestLogger(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Register routes
	s.registerRoutes(r)

	return r
}

// Start initializes and runs the ops server
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("addr", s.config.Addr).Msg("Starting ops server")

	r := s.buildRouter()
	s.router = r

	// Create and configure HTTP server
	server := &http.Server{
		Addr:         s.config.Addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.server = server

	// Start server in a goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Ops server error")
		}
	}()

	s.logger.Info().Str("addr", s.config.Addr).Msg("Ops server started")

	// Wait for context cancellation
	<-ctx.Done()
	return nil
}

// registerRoutes sets up all ops endpoints
func (s *Server) registerRoutes(r chi.Router) {
	// Health checks
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness follows the upstream connection
	r.Get("/readyz", s.handleReady)

	// Connection stats
	r.Get("/stats", s.handleStats)

	// Metrics endpoint
	if s.config.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
}

// handleReady reports readiness based on the upstream connection
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.transport.IsConnected() {
		sendError(w, http.StatusServiceUnavailable, "push server connection down")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleStats returns a snapshot of the transport's connection health
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.transport.GetStats())
}

// Helper method for sending JSON responses
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper method for sending error responses
func sendError(w http.ResponseWriter, status int, errMsg string) {
	sendJSON(w, status, map[string]string{"error": errMsg})
}

// Shutdown stops the ops server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down ops server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
