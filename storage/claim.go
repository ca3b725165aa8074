package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ClaimRegistration carries the EVM-side registration fields of a claim
type ClaimRegistration struct {
	Node       string
	Staker     string
	Amount     decimal.Decimal
	StartTime  uint64
	ExpiryTime uint64
}

// ClaimTuple identifies an executed claim by its pending-claim payload
type ClaimTuple struct {
	Amount     decimal.Decimal
	Staker     string
	StartTime  uint64
	ExpiryTime uint64
}

// ClaimRepository exposes the claim predicates used by the ingestors and
// the balance query
type ClaimRepository interface {
	GetByMsgHash(ctx context.Context, msgHash string) (*Claim, error)
	Create(ctx context.Context, claim *Claim) error
	UpdateRegistration(ctx context.Context, id uint64, reg ClaimRegistration) error
	UpdateInitiation(ctx context.Context, id uint64, height uint64, chainflipHash string) error
	// FindExecuted returns the oldest claim matching tuple that is not
	// expired and not completed before height
	FindExecuted(ctx context.Context, tuple ClaimTuple, height uint64) (*Claim, error)
	SetCompleted(ctx context.Context, id uint64, height uint64) error
	// OldestPendingByNode returns the smallest-id claim of node that is
	// neither expired nor completed
	OldestPendingByNode(ctx context.Context, node string) (*Claim, error)
	// SetExpired expires an open claim. ErrConflict means the claim was
	// already expired or completed.
	SetExpired(ctx context.Context, id uint64, height uint64) error
	// CountExpiredAt returns how many claims of node expired at height
	CountExpiredAt(ctx context.Context, node string, height uint64) (int64, error)
	// Sums returns pending, completed and uncompleted claim totals of node
	// as of the given horizons
	Sums(ctx context.Context, node string, ethereumHeight, chainflipHeight uint64) (Sums, error)
	ListByNode(ctx context.Context, node string, limit int) ([]*Claim, error)
}

type claimRepository struct {
	*Repository
}

func (r *claimRepository) GetByMsgHash(ctx context.Context, msgHash string) (*Claim, error) {
	var claim Claim
	if err := r.DB(ctx).Where("msg_hash = ?", msgHash).First(&claim).Error; err != nil {
		return nil, notFound(err)
	}
	return &claim, nil
}

func (r *claimRepository) Create(ctx context.Context, claim *Claim) error {
	if err := r.DB(ctx).Create(claim).Error; err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	return nil
}

func (r *claimRepository) UpdateRegistration(ctx context.Context, id uint64, reg ClaimRegistration) error {
	return r.DB(ctx).Model(&Claim{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"node":        reg.Node,
			"staker":      reg.Staker,
			"amount":      reg.Amount,
			"start_time":  reg.StartTime,
			"expiry_time": reg.ExpiryTime,
			"updated_at":  time.Now(),
		}).Error
}

func (r *claimRepository) UpdateInitiation(ctx context.Context, id uint64, height uint64, chainflipHash string) error {
	return r.DB(ctx).Model(&Claim{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"initiated_height": height,
			"chainflip_hash":   chainflipHash,
			"updated_at":       time.Now(),
		}).Error
}

func (r *claimRepository) FindExecuted(ctx context.Context, tuple ClaimTuple, height uint64) (*Claim, error) {
	var claim Claim
	err := r.DB(ctx).
		Where("amount = ? AND staker = ? AND start_time = ? AND expiry_time = ?",
			tuple.Amount, tuple.Staker, tuple.StartTime, tuple.ExpiryTime).
		Where("expired_height IS NULL AND (completed_height IS NULL OR completed_height = ?)", height).
		Order("id ASC").
		First(&claim).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &claim, nil
}

func (r *claimRepository) SetCompleted(ctx context.Context, id uint64, height uint64) error {
	result := r.DB(ctx).Model(&Claim{}).
		Where("id = ? AND expired_height IS NULL", id).
		Updates(map[string]interface{}{
			"completed_height": height,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete claim %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("claim %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *claimRepository) OldestPendingByNode(ctx context.Context, node string) (*Claim, error) {
	var claim Claim
	err := r.DB(ctx).
		Where("node = ? AND expired_height IS NULL AND completed_height IS NULL", node).
		Order("id ASC").
		First(&claim).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &claim, nil
}

func (r *claimRepository) SetExpired(ctx context.Context, id uint64, height uint64) error {
	result := r.DB(ctx).Model(&Claim{}).
		Where("id = ? AND completed_height IS NULL AND expired_height IS NULL", id).
		Updates(map[string]interface{}{
			"expired_height": height,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to expire claim %d: %w", id, result.Error)
	}
	// read as pending, then terminated by a concurrent block
	if result.RowsAffected == 0 {
		return fmt.Errorf("expire claim %d: %w", id, ErrConflict)
	}
	return nil
}

func (r *claimRepository) CountExpiredAt(ctx context.Context, node string, height uint64) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&Claim{}).
		Where("node = ? AND expired_height = ?", node, height).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count expired claims of %s: %w", node, err)
	}
	return count, nil
}

func (r *claimRepository) Sums(ctx context.Context, node string, ethereumHeight, chainflipHeight uint64) (Sums, error) {
	var sums Sums
	var err error

	// requested on the ledger, not executed on the EVM side, not lapsed
	sums.Pending, err = r.sum(ctx,
		"node = ? AND initiated_height <= ? AND (completed_height IS NULL OR completed_height > ?) AND (expired_height IS NULL OR expired_height > ?)",
		node, chainflipHeight, ethereumHeight, chainflipHeight)
	if err != nil {
		return sums, err
	}

	sums.Completed, err = r.sum(ctx,
		"node = ? AND initiated_height <= ? AND completed_height <= ?",
		node, chainflipHeight, ethereumHeight)
	if err != nil {
		return sums, err
	}

	sums.Uncompleted, err = r.sum(ctx,
		"node = ? AND (initiated_height IS NULL OR initiated_height > ?) AND completed_height <= ?",
		node, chainflipHeight, ethereumHeight)
	return sums, err
}

func (r *claimRepository) sum(ctx context.Context, query string, args ...interface{}) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	if err := r.DB(ctx).Model(&Claim{}).Where(query, args...).Pluck("amount", &amounts).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum claims: %w", err)
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

func (r *claimRepository) ListByNode(ctx context.Context, node string, limit int) ([]*Claim, error) {
	var claims []*Claim
	err := r.DB(ctx).Where("node = ?", node).Order("id DESC").Limit(limit).Find(&claims).Error
	return claims, err
}
