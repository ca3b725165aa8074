package testutil

import (
	"context"
	"strings"
	"testing"
)

func TestNewTestStoreAt(t *testing.T) {
	store := NewTestStoreAt(t, 120, 64)

	cp, err := store.Checkpoints.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp.EthereumHeight != 120 || cp.ChainflipHeight != 64 {
		t.Errorf("unexpected checkpoint %d / %d", cp.EthereumHeight, cp.ChainflipHeight)
	}
}

func TestNodeAddress(t *testing.T) {
	var nodeID [32]byte
	nodeID[0] = 0x01

	addr := NodeAddress(t, nodeID)
	// prefix 2112 renders as "cF"
	if !strings.HasPrefix(addr, "cF") {
		t.Errorf("expected cF prefix, got %s", addr)
	}
	if NodeAddress(t, nodeID) != addr {
		t.Error("encoding is not deterministic")
	}
}

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger(t)
	if logger == nil {
		t.Fatal("expected logger")
	}
	logger.Warn("visible in verbose test output")
}
