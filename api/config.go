package api

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/staking-indexer/internal/constants"
)

// Config holds API server configuration
type Config struct {
	// Host is the server host (default: 0.0.0.0)
	Host string

	// Port is the server port (default: 3000)
	Port int

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration

	// EnableCORS enables CORS middleware
	EnableCORS bool

	// AllowedOrigins is a list of allowed CORS and WebSocket origins
	AllowedOrigins []string

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int

	// EnableGraphQL enables the GraphQL API
	EnableGraphQL bool

	// EnablePlayground serves GraphQL Playground on GET requests to GraphQLPath
	EnablePlayground bool

	// EnableJSONRPC enables the JSON-RPC API
	EnableJSONRPC bool

	// EnableWebSocket enables WebSocket event streams
	EnableWebSocket bool

	// GraphQLPath is the GraphQL endpoint path (default: /graphql)
	GraphQLPath string

	// JSONRPCPath is the JSON-RPC endpoint path (default: /api/v1/jsonrpc)
	JSONRPCPath string

	// WebSocketPath is the WebSocket endpoint path (default: /ws)
	WebSocketPath string

	// ShutdownTimeout is the graceful shutdown timeout
	ShutdownTimeout time.Duration

	// EnableRateLimit enables per-IP rate limiting
	EnableRateLimit bool

	// RateLimitPerSecond is the number of requests allowed per second per IP
	RateLimitPerSecond float64

	// RateLimitBurst is the maximum burst size
	RateLimitBurst int
}

// DefaultConfig returns a default API server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:               constants.DefaultAPIHost,
		Port:               constants.DefaultAPIPort,
		ReadTimeout:        constants.DefaultReadTimeout,
		WriteTimeout:       constants.DefaultWriteTimeout,
		IdleTimeout:        constants.DefaultIdleTimeout,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		MaxHeaderBytes:     constants.DefaultMaxHeaderBytes,
		EnableGraphQL:      true,
		EnableJSONRPC:      true,
		EnableWebSocket:    true,
		GraphQLPath:        constants.DefaultGraphQLPath,
		JSONRPCPath:        constants.DefaultJSONRPCPath,
		WebSocketPath:      constants.DefaultWebSocketPath,
		ShutdownTimeout:    constants.DefaultShutdownTimeout,
		EnableRateLimit:    false,
		RateLimitPerSecond: constants.DefaultRateLimitPerSecond,
		RateLimitBurst:     constants.DefaultRateLimitBurst,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < constants.MinPort || c.Port > constants.MaxPort {
		return fmt.Errorf("port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("max header bytes must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.EnableRateLimit && (c.RateLimitPerSecond <= 0 || c.RateLimitBurst <= 0) {
		return errors.New("rate limit and burst must be positive when rate limiting is enabled")
	}

	// At least one API must be enabled
	if !c.EnableGraphQL && !c.EnableJSONRPC && !c.EnableWebSocket {
		return errors.New("at least one API (GraphQL, JSON-RPC, or WebSocket) must be enabled")
	}

	paths := []struct {
		enabled bool
		name    string
		path    string
	}{
		{c.EnableGraphQL, "graphql", c.GraphQLPath},
		{c.EnableJSONRPC, "jsonrpc", c.JSONRPCPath},
		{c.EnableWebSocket, "websocket", c.WebSocketPath},
	}
	for _, p := range paths {
		if p.enabled && !strings.HasPrefix(p.path, "/") {
			return fmt.Errorf("%s path %q must begin with '/'", p.name, p.path)
		}
	}

	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
