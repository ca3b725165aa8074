package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// fakeNode answers a fixed set of JSON-RPC methods
type fakeNode struct {
	mu      sync.Mutex
	results map[string]interface{}
	calls   map[string][]json.RawMessage
}

func newFakeNode(results map[string]interface{}) *httptest.Server {
	node := &fakeNode{results: results, calls: make(map[string][]json.RawMessage)}
	return httptest.NewServer(node)
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method] = append(n.calls[req.Method], req.Params)
	result, ok := n.results[req.Method]
	n.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if ok {
		resp["result"] = result
	} else {
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:    "empty endpoint",
			config:  &Config{Endpoint: ""},
			wantErr: true,
		},
		{
			name: "invalid endpoint",
			config: &Config{
				Endpoint: "invalid://endpoint",
				Timeout:  5 * time.Second,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if client != nil {
				client.Close()
			}
		})
	}
}

func TestClientCalls(t *testing.T) {
	contract := common.HexToAddress("0x3A96a4bCdF4bE3D0F4C7d6B5b0Ef7cB2F3a5b111")
	topic := common.HexToHash("0x0a")
	txHash := common.HexToHash("0xbeef")

	server := newFakeNode(map[string]interface{}{
		"eth_chainId":     "0x1",
		"eth_blockNumber": "0x64",
		"eth_call":        "0x000000000000000000000000000000000000000000000000000000000000002a",
		"eth_getLogs": []map[string]interface{}{
			{
				"address":          contract.Hex(),
				"topics":           []string{topic.Hex()},
				"data":             "0x",
				"blockNumber":      "0x10",
				"transactionHash":  txHash.Hex(),
				"transactionIndex": "0x0",
				"blockHash":        common.HexToHash("0x01").Hex(),
				"logIndex":         "0x0",
				"removed":          false,
			},
		},
	})
	defer server.Close()

	client, err := NewClient(&Config{Endpoint: server.URL, Timeout: 5 * time.Second, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	ctx := context.Background()

	height, err := client.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("BlockNumber() error = %v", err)
	}
	if height != 100 {
		t.Errorf("BlockNumber() = %d, want 100", height)
	}

	logs, err := client.FilterLogs(ctx, contract, []common.Hash{topic}, 1, 100)
	if err != nil {
		t.Fatalf("FilterLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].TxHash != txHash || logs[0].BlockNumber != 16 {
		t.Errorf("FilterLogs() = %+v", logs)
	}

	out, err := client.CallContract(ctx, contract, []byte{0x01}, 99)
	if err != nil {
		t.Fatalf("CallContract() error = %v", err)
	}
	if len(out) != 32 || out[31] != 0x2a {
		t.Errorf("CallContract() = %x", out)
	}

	if _, err := client.TransactionByHash(ctx, txHash); err == nil {
		t.Error("TransactionByHash() should fail when the node does not know the method")
	}

	if _, err := client.BatchTransactionsByHash(ctx, []common.Hash{txHash}); err == nil {
		t.Error("BatchTransactionsByHash() with one hash should surface the lookup error")
	}

	txs, err := client.BatchTransactionsByHash(ctx, nil)
	if err != nil || txs != nil {
		t.Errorf("BatchTransactionsByHash(nil) = %v, %v", txs, err)
	}
}
