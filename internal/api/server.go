// Package api provides the direct-message relay HTTP server.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pro-subscriber/internal/circuitbreaker"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/storage"
)

// ReplayStore records upstream answers per idempotency key
type ReplayStore interface {
	Lookup(ctx context.Context, key string) (*storage.StoredResponse, bool, error)
	Store(ctx context.Context, key string, resp *storage.StoredResponse) error
}

// Server represents the relay HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	upstream   Forwarder
	replay     ReplayStore
	breaker    *circuitbreaker.CircuitBreaker
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateBurst       int
}

// NewServer creates a relay server. replay may be nil to disable replays.
func NewServer(config *ServerConfig, upstream Forwarder, replay ReplayStore, breaker *circuitbreaker.CircuitBreaker) *Server {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("upstream"))
	}
	s := &Server{
		router:   mux.NewRouter(),
		upstream: upstream,
		replay:   replay,
		breaker:  breaker,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateBurst)

	// order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	relay := RateLimitMiddleware(rateLimiter)(http.HandlerFunc(s.handleSendMessage))
	s.router.Handle("/dc", relay).Methods(http.MethodPut, http.MethodOptions)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

type healthResponse struct {
	Status   string               `json:"status"`
	Service  string               `json:"service"`
	Upstream circuitbreaker.Stats `json:"upstream"`
}

// handleHealth reports the relay as degraded while the upstream circuit is open.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.breaker.GetStats()
	status := "healthy"
	if stats.State == circuitbreaker.StateOpen {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, healthResponse{
		Status:   status,
		Service:  "dc-relay",
		Upstream: stats,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting relay server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down relay server...")
	return s.httpServer.Shutdown(ctx)
}
