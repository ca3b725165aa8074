package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/balance"
	"github.com/0xmhha/staking-indexer/events"
	"github.com/0xmhha/staking-indexer/storage"
)

// mockService is a mock implementation of Service for testing
type mockService struct {
	state    *balance.State
	stateErr error
}

func (m *mockService) GetBalance(ctx context.Context, address string, ethereumHeight, chainflipHeight uint64) (*balance.Balance, error) {
	if chainflipHeight > m.state.ChainflipHeight {
		return nil, balance.ErrInvalidBlockHeight
	}
	return &balance.Balance{Address: address, StakedBalance: decimal.NewFromInt(30), Rewards: decimal.NewFromInt(5)}, nil
}

func (m *mockService) GetState(ctx context.Context) (*balance.State, error) {
	if m.stateErr != nil {
		return nil, m.stateErr
	}
	return m.state, nil
}

func (m *mockService) Stakes(ctx context.Context, address string, limit int) ([]*storage.Stake, error) {
	return []*storage.Stake{{
		Hash:            storage.StringPtr("0x01"),
		Address:         address,
		Amount:          decimal.NewFromInt(40),
		CompletedHeight: storage.Uint64Ptr(45),
	}}, nil
}

func (m *mockService) Claims(ctx context.Context, node string, limit int) ([]*storage.Claim, error) {
	return []*storage.Claim{{MsgHash: "0xc1", Node: node, Amount: decimal.NewFromInt(10)}}, nil
}

func (m *mockService) Validator(ctx context.Context, address string) (*storage.Validator, error) {
	if address != "cFaddr" {
		return nil, nil
	}
	return &storage.Validator{Address: address, StakedAmount: decimal.NewFromInt(40)}, nil
}

func newMockService() *mockService {
	return &mockService{state: &balance.State{EthereumHeight: 100, ChainflipHeight: 50}}
}

func validConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
		EnableJSONRPC:   true,
		JSONRPCPath:     "/rpc",
	}
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Config
		wantErr bool
	}{
		{"valid default config", DefaultConfig, false},
		{"invalid port", func() *Config {
			c := validConfig()
			c.Port = 0
			return c
		}, true},
		{"no API enabled", func() *Config {
			c := validConfig()
			c.EnableJSONRPC = false
			return c
		}, true},
		{"empty jsonrpc path", func() *Config {
			c := validConfig()
			c.JSONRPCPath = ""
			return c
		}, true},
		{"relative graphql path", func() *Config {
			c := validConfig()
			c.EnableGraphQL = true
			c.GraphQLPath = "graphql"
			return c
		}, true},
		{"disabled api without path", func() *Config {
			c := validConfig()
			c.EnableWebSocket = false
			c.WebSocketPath = ""
			return c
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(tt.config(), zap.NewNop(), newMockService(), nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewServer() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && server == nil {
				t.Error("NewServer() returned nil server")
			}
		})
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	bus := events.NewEventBus(16, 4)
	go bus.Run()
	defer bus.Stop()

	server, err := NewServer(DefaultConfig(), zap.NewNop(), newMockService(), bus)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	server.SetSyncStateFunc(func() string { return "live" })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp.Status != "ok" || resp.SyncState != "live" {
		t.Errorf("unexpected status %q / %q", resp.Status, resp.SyncState)
	}
	if resp.EthereumHeight != 100 || resp.ChainflipHeight != 50 {
		t.Errorf("unexpected heights %d / %d", resp.EthereumHeight, resp.ChainflipHeight)
	}
	if resp.EventBus == nil {
		t.Error("expected eventbus info")
	}
}

func TestServerHealthUnavailable(t *testing.T) {
	svc := newMockService()
	svc.stateErr = errors.New("database is closed")

	server, err := NewServer(validConfig(), zap.NewNop(), svc, nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "database is closed") {
		t.Errorf("expected error in body, got %s", w.Body.String())
	}
}

func TestServerVersionEndpoint(t *testing.T) {
	server, err := NewServer(validConfig(), zap.NewNop(), newMockService(), nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode version response: %v", err)
	}
	if resp["name"] != "staking-indexer" || resp["version"] != Version {
		t.Errorf("unexpected version response %v", resp)
	}
}

func TestServerRoutes(t *testing.T) {
	server, err := NewServer(DefaultConfig(), zap.NewNop(), newMockService(), nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	rpc := `{"jsonrpc":"2.0","method":"get_balance","params":{"address":"cFaddr","chainflip_height":60},"id":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jsonrpc", bytes.NewBufferString(rpc))
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"code":-32001`) {
		t.Errorf("expected invalid block height error, got %s", w.Body.String())
	}

	gql, _ := json.Marshal(map[string]string{"query": `{ balance(address: "cFaddr") { stakedBalance rewards } }`})
	req = httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(gql))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"stakedBalance": "30"`) {
		t.Errorf("unexpected graphql response %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected metrics status 200, got %d", w.Code)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	bus := events.NewEventBus(16, 4)
	go bus.Run()
	defer bus.Stop()

	config := DefaultConfig()
	config.Host = "127.0.0.1"
	config.Port = 38181

	server, err := NewServer(config, zap.NewNop(), newMockService(), bus)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	// wait for the listener
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://127.0.0.1:38181/version")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start() returned %v", err)
	}
}

func TestServerMiddleware(t *testing.T) {
	config := DefaultConfig()
	config.AllowedOrigins = []string{"http://localhost:3000"}

	server, err := NewServer(config, zap.NewNop(), newMockService(), nil)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("OPTIONS request returned wrong status code: got %v", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty host", func(c *Config) { c.Host = "" }, true},
		{"port too large", func(c *Config) { c.Port = 70000 }, true},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }, true},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, true},
		{"zero idle timeout", func(c *Config) { c.IdleTimeout = 0 }, true},
		{"zero header bytes", func(c *Config) { c.MaxHeaderBytes = 0 }, true},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, true},
		{"rate limit without rate", func(c *Config) {
			c.EnableRateLimit = true
			c.RateLimitPerSecond = 0
			c.RateLimitBurst = 10
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	config := DefaultConfig()

	if config.Port != 3000 {
		t.Errorf("expected default port to be 3000, got %d", config.Port)
	}
	if config.JSONRPCPath != "/api/v1/jsonrpc" {
		t.Errorf("unexpected default JSON-RPC path %s", config.JSONRPCPath)
	}
	if !config.EnableGraphQL || !config.EnableJSONRPC || !config.EnableWebSocket {
		t.Error("expected every API to be enabled by default")
	}
	if got := config.Address(); got != "0.0.0.0:3000" {
		t.Errorf("expected address 0.0.0.0:3000, got %s", got)
	}
}
