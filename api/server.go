// Package api serves the balance and state queries over JSON-RPC and
// GraphQL, and streams indexer events over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/api/graphql"
	"github.com/0xmhha/staking-indexer/api/jsonrpc"
	apimiddleware "github.com/0xmhha/staking-indexer/api/middleware"
	"github.com/0xmhha/staking-indexer/api/websocket"
	"github.com/0xmhha/staking-indexer/events"
)

// Version is reported by /version and overridden at build time
var Version = "dev"

// Service answers balance, state and history queries. JSON-RPC uses the
// first two; GraphQL serves all of them.
type Service interface {
	graphql.Service
}

// Server owns the HTTP listener and, when enabled, the WebSocket fan-out
type Server struct {
	config   *Config
	logger   *zap.Logger
	service  Service
	eventBus *events.EventBus
	router   *chi.Mux
	server   *http.Server
	wsServer *websocket.Server

	syncState func() string
}

// NewServer creates a new API server. bus may be nil, in which case the
// WebSocket API is not mounted.
func NewServer(config *Config, logger *zap.Logger, service Service, bus *events.EventBus) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		config:   config,
		logger:   logger,
		service:  service,
		eventBus: bus,
	}

	router, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.router = router
	s.server = &http.Server{
		Addr:           config.Address(),
		Handler:        router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s, nil
}

// SetSyncStateFunc registers a reporter for the indexer sync state shown by /health
func (s *Server) SetSyncStateFunc(fn func() string) {
	s.syncState = fn
}

func (s *Server) routes() (*chi.Mux, error) {
	r := chi.NewRouter()

	// recovery first so it also covers the other middleware
	r.Use(apimiddleware.Recovery(s.logger))
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(apimiddleware.Logger(s.logger))
	if s.config.EnableRateLimit {
		r.Use(apimiddleware.RateLimit(s.config.RateLimitPerSecond, s.config.RateLimitBurst, s.logger))
	}
	if s.config.EnableCORS {
		r.Use(apimiddleware.CORS(s.config.AllowedOrigins))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": "staking-indexer", "version": Version})
	})
	r.Handle("/metrics", promhttp.Handler())

	if s.config.EnableWebSocket && s.eventBus != nil {
		s.wsServer = websocket.NewServer(s.eventBus, s.config.AllowedOrigins, s.logger)
		r.Get(s.config.WebSocketPath, s.wsServer.ServeHTTP)
	}
	if s.config.EnableGraphQL {
		h, err := graphql.NewHandler(s.service, s.logger, s.config.EnablePlayground)
		if err != nil {
			return nil, fmt.Errorf("failed to create GraphQL handler: %w", err)
		}
		r.Handle(s.config.GraphQLPath, h)
	}
	if s.config.EnableJSONRPC {
		r.Post(s.config.JSONRPCPath, jsonrpc.NewServer(s.service, s.logger).ServeHTTP)
	}
	return r, nil
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status          string        `json:"status"`
	Timestamp       string        `json:"timestamp"`
	SyncState       string        `json:"sync_state,omitempty"`
	EthereumHeight  uint64        `json:"ethereum_height"`
	ChainflipHeight uint64        `json:"chainflip_height"`
	Error           string        `json:"error,omitempty"`
	EventBus        *events.Stats `json:"eventbus,omitempty"`
}

// handleHealth reports the indexed heights; it answers 503 when the
// checkpoint cannot be read
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	status := http.StatusOK

	if state, err := s.service.GetState(r.Context()); err != nil {
		resp.Status, resp.Error = "unavailable", err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.EthereumHeight, resp.ChainflipHeight = state.EthereumHeight, state.ChainflipHeight
	}
	if s.syncState != nil {
		resp.SyncState = s.syncState()
	}
	if s.eventBus != nil {
		stats := s.eventBus.Stats()
		resp.EventBus = &stats
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves until Stop. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	if s.wsServer != nil {
		if err := s.wsServer.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start websocket server: %w", err)
		}
	}

	s.logger.Info("API server listening",
		zap.String("address", s.config.Address()),
		zap.Bool("graphql", s.config.EnableGraphQL),
		zap.Bool("jsonrpc", s.config.EnableJSONRPC),
		zap.Bool("websocket", s.wsServer != nil),
		zap.Bool("rate_limit", s.config.EnableRateLimit),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop disconnects WebSocket clients, then drains HTTP requests within
// ShutdownTimeout
func (s *Server) Stop(ctx context.Context) error {
	if s.wsServer != nil {
		s.wsServer.Stop()
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
