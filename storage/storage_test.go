package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(&Config{Driver: "sqlite", DSN: ":memory:", AutoMigrate: true})
	require.NoError(t, err)
	store := NewStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"postgres", Config{Driver: "postgres", DSN: "host=localhost"}, false},
		{"sqlite", Config{Driver: "sqlite", DSN: ":memory:"}, false},
		{"unknown driver", Config{Driver: "mysql", DSN: "x"}, true},
		{"empty dsn", Config{Driver: "sqlite"}, true},
		{"negative pool", Config{Driver: "postgres", DSN: "x", MaxOpenConns: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransactionRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("rpc failed mid-block")

	err := store.Transaction(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Stakes.Create(ctx, &Stake{
			Hash:    StringPtr("0xaa"),
			Amount:  decimal.NewFromInt(100),
			Address: "cFvalidator",
		}))
		require.NoError(t, store.Validators.AddStake(ctx, "cFvalidator", decimal.NewFromInt(100)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Stakes.GetByHash(ctx, "0xaa")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Validators.Get(ctx, "cFvalidator")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNestedTransactionJoinsOuter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Transaction(ctx, func(ctx context.Context) error {
		return store.Transaction(ctx, func(ctx context.Context) error {
			return store.Stakes.Create(ctx, &Stake{
				Hash:    StringPtr("0xbb"),
				Amount:  decimal.NewFromInt(1),
				Address: "cFnode",
			})
		})
	})
	require.NoError(t, err)

	stake, err := store.Stakes.GetByHash(ctx, "0xbb")
	require.NoError(t, err)
	assert.Equal(t, "cFnode", stake.Address)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("plain")))
	assert.True(t, IsRetryableError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})))
	assert.False(t, IsRetryableError(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsRetryableError(fmt.Errorf("expire claim 1: %w", ErrConflict)))
}

func TestTransactionWithRetryStopsOnPlainError(t *testing.T) {
	store := newTestStore(t)
	calls := 0
	err := store.TransactionWithRetry(context.Background(), 3, func(ctx context.Context) error {
		calls++
		return errors.New("constraint")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestTransactionWithRetryReplaysSerializationFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	calls := 0
	err := store.TransactionWithRetry(ctx, 3, func(ctx context.Context) error {
		calls++
		if err := store.Validators.AddStake(ctx, "cFnode", decimal.NewFromInt(7)); err != nil {
			return err
		}
		if calls < 2 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	// the failed attempt was rolled back
	v, err := store.Validators.Get(ctx, "cFnode")
	require.NoError(t, err)
	assert.True(t, v.StakedAmount.Equal(decimal.NewFromInt(7)))
}

func TestTransactionWithRetryReplaysConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Claim{MsgHash: "0x1", Node: "cFnode", Amount: decimal.NewFromInt(1)}
	second := &Claim{MsgHash: "0x2", Node: "cFnode", Amount: decimal.NewFromInt(2)}
	require.NoError(t, store.Claims.Create(ctx, first))
	require.NoError(t, store.Claims.Create(ctx, second))

	// read before another block expired the same claim
	stale, err := store.Claims.OldestPendingByNode(ctx, "cFnode")
	require.NoError(t, err)
	require.NoError(t, store.Claims.SetExpired(ctx, first.ID, 10))

	calls := 0
	err = store.TransactionWithRetry(ctx, 3, func(ctx context.Context) error {
		calls++
		claim := stale
		if calls > 1 {
			var err error
			if claim, err = store.Claims.OldestPendingByNode(ctx, "cFnode"); err != nil {
				return err
			}
		}
		return store.Claims.SetExpired(ctx, claim.ID, 11)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	got, err := store.Claims.GetByMsgHash(ctx, "0x1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), *got.ExpiredHeight)

	got, err = store.Claims.GetByMsgHash(ctx, "0x2")
	require.NoError(t, err)
	require.NotNil(t, got.ExpiredHeight)
	assert.Equal(t, uint64(11), *got.ExpiredHeight)
}
