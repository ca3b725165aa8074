package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ValidatorRepository maintains the validator aggregate
type ValidatorRepository interface {
	// AddStake creates the validator or increments its staked amount atomically
	AddStake(ctx context.Context, address string, amount decimal.Decimal) error
	Get(ctx context.Context, address string) (*Validator, error)
}

type validatorRepository struct {
	*Repository
}

func (r *validatorRepository) AddStake(ctx context.Context, address string, amount decimal.Decimal) error {
	now := time.Now()
	v := &Validator{
		Address:      address,
		StakedAmount: amount,
		Rewards:      decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"staked_amount": gorm.Expr("validators.staked_amount + excluded.staked_amount"),
			"updated_at":    now,
		}),
	}).Create(v).Error
	if err != nil {
		return fmt.Errorf("failed to add stake to validator %s: %w", address, err)
	}
	return nil
}

func (r *validatorRepository) Get(ctx context.Context, address string) (*Validator, error) {
	var v Validator
	if err := r.DB(ctx).Where("address = ?", address).First(&v).Error; err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}
