package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// CheckpointRepository reads and advances the singleton checkpoint
type CheckpointRepository interface {
	// Get returns the checkpoint or ErrNotFound before Init
	Get(ctx context.Context) (*Checkpoint, error)
	// Init creates the checkpoint with the given heights if it does not exist
	// and returns the stored row
	Init(ctx context.Context, ethereumHeight, chainflipHeight uint64) (*Checkpoint, error)
	// AdvanceEthereum sets ethereum_height; lowering it fails with ErrCheckpointRegression
	AdvanceEthereum(ctx context.Context, height uint64) error
	// AdvanceChainflip sets chainflip_height; lowering it fails with ErrCheckpointRegression
	AdvanceChainflip(ctx context.Context, height uint64) error
}

type checkpointRepository struct {
	*Repository
}

func (r *checkpointRepository) Get(ctx context.Context) (*Checkpoint, error) {
	var cp Checkpoint
	if err := r.DB(ctx).Where("id = ?", CheckpointID).First(&cp).Error; err != nil {
		return nil, notFound(err)
	}
	return &cp, nil
}

func (r *checkpointRepository) Init(ctx context.Context, ethereumHeight, chainflipHeight uint64) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:              CheckpointID,
		EthereumHeight:  ethereumHeight,
		ChainflipHeight: chainflipHeight,
		UpdatedAt:       time.Now(),
	}
	if err := r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(cp).Error; err != nil {
		return nil, fmt.Errorf("failed to init checkpoint: %w", err)
	}
	return r.Get(ctx)
}

func (r *checkpointRepository) AdvanceEthereum(ctx context.Context, height uint64) error {
	return r.advance(ctx, "ethereum_height", height)
}

func (r *checkpointRepository) AdvanceChainflip(ctx context.Context, height uint64) error {
	return r.advance(ctx, "chainflip_height", height)
}

func (r *checkpointRepository) advance(ctx context.Context, column string, height uint64) error {
	result := r.DB(ctx).Model(&Checkpoint{}).
		Where("id = ? AND "+column+" <= ?", CheckpointID, height).
		Updates(map[string]interface{}{
			column:       height,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to advance %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s to %d", ErrCheckpointRegression, column, height)
	}
	return nil
}
