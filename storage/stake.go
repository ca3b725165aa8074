package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StakeRepository exposes the stake predicates used by the ingestors and
// the balance query
type StakeRepository interface {
	GetByHash(ctx context.Context, hash string) (*Stake, error)
	Create(ctx context.Context, stake *Stake) error
	SetInitiated(ctx context.Context, id uint64, height uint64) error
	// SetCompleted moves completed_height forward and reports whether it changed
	SetCompleted(ctx context.Context, id uint64, height uint64) (bool, error)
	// Sums returns pending, completed and uncompleted stake totals of address
	// as of the given horizons
	Sums(ctx context.Context, address string, ethereumHeight, chainflipHeight uint64) (Sums, error)
	ListByAddress(ctx context.Context, address string, limit int) ([]*Stake, error)
}

type stakeRepository struct {
	*Repository
}

func (r *stakeRepository) GetByHash(ctx context.Context, hash string) (*Stake, error) {
	var stake Stake
	if err := r.DB(ctx).Where("hash = ?", hash).First(&stake).Error; err != nil {
		return nil, notFound(err)
	}
	return &stake, nil
}

func (r *stakeRepository) Create(ctx context.Context, stake *Stake) error {
	if err := r.DB(ctx).Create(stake).Error; err != nil {
		return fmt.Errorf("failed to create stake: %w", err)
	}
	return nil
}

func (r *stakeRepository) SetInitiated(ctx context.Context, id uint64, height uint64) error {
	return r.DB(ctx).Model(&Stake{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"initiated_height": height,
			"updated_at":       time.Now(),
		}).Error
}

func (r *stakeRepository) SetCompleted(ctx context.Context, id uint64, height uint64) (bool, error) {
	result := r.DB(ctx).Model(&Stake{}).
		Where("id = ? AND (completed_height IS NULL OR completed_height < ?)", id, height).
		Updates(map[string]interface{}{
			"completed_height": height,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete stake %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *stakeRepository) Sums(ctx context.Context, address string, ethereumHeight, chainflipHeight uint64) (Sums, error) {
	var sums Sums
	var err error

	// submitted by the EVM horizon, not yet credited by the ledger horizon
	sums.Pending, err = r.sum(ctx,
		"address = ? AND initiated_height <= ? AND (completed_height IS NULL OR completed_height > ?)",
		address, ethereumHeight, chainflipHeight)
	if err != nil {
		return sums, err
	}

	sums.Completed, err = r.sum(ctx,
		"address = ? AND initiated_height <= ? AND completed_height <= ?",
		address, ethereumHeight, chainflipHeight)
	if err != nil {
		return sums, err
	}

	// credited on the ledger but not (yet) seen on the EVM side
	sums.Uncompleted, err = r.sum(ctx,
		"address = ? AND (initiated_height IS NULL OR initiated_height > ?) AND completed_height <= ?",
		address, ethereumHeight, chainflipHeight)
	return sums, err
}

func (r *stakeRepository) sum(ctx context.Context, query string, args ...interface{}) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.DB(ctx).Model(&Stake{}).Where(query, args...).Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum stakes: %w", err)
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (r *stakeRepository) ListByAddress(ctx context.Context, address string, limit int) ([]*Stake, error) {
	var stakes []*Stake
	err := r.DB(ctx).Where("address = ?", address).Order("id DESC").Limit(limit).Find(&stakes).Error
	return stakes, err
}
