package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStakeLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stake := &Stake{
		Hash:            StringPtr("0xa"),
		Amount:          decimal.NewFromInt(100),
		Address:         "cFnode",
		InitiatedHeight: Uint64Ptr(10),
	}
	require.NoError(t, store.Stakes.Create(ctx, stake))
	require.NotZero(t, stake.ID)

	changed, err := store.Stakes.SetCompleted(ctx, stake.ID, 20)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.Stakes.SetCompleted(ctx, stake.ID, 20)
	require.NoError(t, err)
	assert.False(t, changed, "same height is a no-op")

	changed, err = store.Stakes.SetCompleted(ctx, stake.ID, 19)
	require.NoError(t, err)
	assert.False(t, changed, "completed height never moves backwards")

	got, err := store.Stakes.GetByHash(ctx, "0xa")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedHeight)
	assert.Equal(t, uint64(20), *got.CompletedHeight)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(100)))

	require.NoError(t, store.Stakes.SetInitiated(ctx, stake.ID, 11))
	got, err = store.Stakes.GetByHash(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), *got.InitiatedHeight)
}

func TestStakeDuplicateHashRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Stakes.Create(ctx, &Stake{Hash: StringPtr("0xdup"), Amount: decimal.NewFromInt(1), Address: "a"}))
	assert.Error(t, store.Stakes.Create(ctx, &Stake{Hash: StringPtr("0xdup"), Amount: decimal.NewFromInt(1), Address: "a"}))
}

func TestStakeSums(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rows := []*Stake{
		// completed: initiated 10 <= 100, completed 40 <= 50
		{Hash: StringPtr("0x1"), Amount: decimal.NewFromInt(40), Address: "addr1", InitiatedHeight: Uint64Ptr(10), CompletedHeight: Uint64Ptr(40)},
		// pending: completed after the ledger horizon
		{Hash: StringPtr("0x2"), Amount: decimal.NewFromInt(7), Address: "addr1", InitiatedHeight: Uint64Ptr(90), CompletedHeight: Uint64Ptr(60)},
		// pending: not credited yet
		{Hash: StringPtr("0x3"), Amount: decimal.NewFromInt(5), Address: "addr1", InitiatedHeight: Uint64Ptr(95)},
		// uncompleted: submitted after the EVM horizon, already credited
		{Hash: StringPtr("0x4"), Amount: decimal.NewFromInt(3), Address: "addr1", InitiatedHeight: Uint64Ptr(101), CompletedHeight: Uint64Ptr(45)},
		// uncompleted: orphan, never seen on the EVM side
		{Hash: StringPtr("0x5"), Amount: decimal.NewFromInt(2), Address: "addr1", CompletedHeight: Uint64Ptr(30)},
		// ignored: submitted after the EVM horizon, not credited
		{Hash: StringPtr("0x6"), Amount: decimal.NewFromInt(1000), Address: "addr1", InitiatedHeight: Uint64Ptr(150)},
		// other address
		{Hash: StringPtr("0x7"), Amount: decimal.NewFromInt(999), Address: "addr2", InitiatedHeight: Uint64Ptr(1), CompletedHeight: Uint64Ptr(1)},
	}
	for _, s := range rows {
		require.NoError(t, store.Stakes.Create(ctx, s))
	}

	sums, err := store.Stakes.Sums(ctx, "addr1", 100, 50)
	require.NoError(t, err)
	assert.Equal(t, "12", sums.Pending.String())
	assert.Equal(t, "40", sums.Completed.String())
	assert.Equal(t, "5", sums.Uncompleted.String())

	empty, err := store.Stakes.Sums(ctx, "nobody", 100, 50)
	require.NoError(t, err)
	assert.True(t, empty.Pending.IsZero())
	assert.True(t, empty.Completed.IsZero())
	assert.True(t, empty.Uncompleted.IsZero())
}

func TestStakeListByAddress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, h := range []string{"0x1", "0x2", "0x3"} {
		require.NoError(t, store.Stakes.Create(ctx, &Stake{Hash: StringPtr(h), Amount: decimal.NewFromInt(1), Address: "addr1"}))
	}

	stakes, err := store.Stakes.ListByAddress(ctx, "addr1", 2)
	require.NoError(t, err)
	require.Len(t, stakes, 2)
	assert.Equal(t, "0x3", *stakes[0].Hash, "newest first")
}
