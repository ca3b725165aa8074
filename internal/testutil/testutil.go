// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/0xmhha/staking-indexer/internal/constants"
	"github.com/0xmhha/staking-indexer/ledger"
	"github.com/0xmhha/staking-indexer/storage"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// NewTestStore opens a migrated in-memory SQLite store closed at test end
func NewTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(&storage.Config{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	store := storage.NewStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewTestStoreAt opens a test store whose checkpoint is seeded at the given heights
func NewTestStoreAt(t *testing.T, ethereumHeight, chainflipHeight uint64) *storage.Store {
	t.Helper()
	store := NewTestStore(t)
	if _, err := store.Checkpoints.Init(context.Background(), ethereumHeight, chainflipHeight); err != nil {
		t.Fatalf("failed to seed checkpoint: %v", err)
	}
	return store
}

// NodeAddress renders a 32-byte node id as a Chainflip SS58 address
func NodeAddress(t *testing.T, nodeID [32]byte) string {
	t.Helper()
	addr, err := ledger.EncodeSS58(nodeID[:], constants.ChainflipSS58Prefix)
	if err != nil {
		t.Fatalf("failed to encode address: %v", err)
	}
	return addr
}
