// Package balance answers the reconciliation query: locally indexed stakes
// and claims combined with the live ledger stake of an account.
package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/storage"
)

// ErrInvalidBlockHeight is returned when a requested height is above the
// indexed checkpoint of its chain
var ErrInvalidBlockHeight = errors.New("invalid block height")

// LiveBalanceSource reads the on-chain stake of an account
type LiveBalanceSource interface {
	StakedBalance(ctx context.Context, address string, height uint64) (*big.Int, error)
}

// Balance is the result of GetBalance
type Balance struct {
	Address       string          `json:"address"`
	StakedBalance decimal.Decimal `json:"staked_balance"`
	Rewards       decimal.Decimal `json:"rewards"`
}

// State is the indexed horizon of both chains
type State struct {
	EthereumHeight  uint64 `json:"ethereum_height"`
	ChainflipHeight uint64 `json:"chainflip_height"`
}

// Service serves balance and state queries
type Service struct {
	store  *storage.Store
	live   LiveBalanceSource
	logger *zap.Logger
}

// NewService creates a new Service
func NewService(store *storage.Store, live LiveBalanceSource, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		live:   live,
		logger: logger,
	}
}

// GetState returns the current checkpoint
func (s *Service) GetState(ctx context.Context) (*State, error) {
	cp, err := s.store.Checkpoints.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return &State{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &State{
		EthereumHeight:  cp.EthereumHeight,
		ChainflipHeight: cp.ChainflipHeight,
	}, nil
}

// GetBalance reconciles the stake of address as of the two heights. A zero
// height means the current checkpoint of that chain.
//
//	staked_balance = pending stakes + completed stakes - completed claims - pending claims
//	rewards        = live - staked_balance - uncompleted stakes + uncompleted claims
func (s *Service) GetBalance(ctx context.Context, address string, ethereumHeight, chainflipHeight uint64) (*Balance, error) {
	if address == "" {
		return nil, errors.New("address cannot be empty")
	}

	state, err := s.GetState(ctx)
	if err != nil {
		return nil, err
	}
	if ethereumHeight == 0 {
		ethereumHeight = state.EthereumHeight
	}
	if chainflipHeight == 0 {
		chainflipHeight = state.ChainflipHeight
	}
	if ethereumHeight > state.EthereumHeight || chainflipHeight > state.ChainflipHeight {
		return nil, fmt.Errorf("%w: requested (%d, %d), indexed (%d, %d)", ErrInvalidBlockHeight,
			ethereumHeight, chainflipHeight, state.EthereumHeight, state.ChainflipHeight)
	}

	stakes, err := s.store.Stakes.Sums(ctx, address, ethereumHeight, chainflipHeight)
	if err != nil {
		return nil, err
	}
	claims, err := s.store.Claims.Sums(ctx, address, ethereumHeight, chainflipHeight)
	if err != nil {
		return nil, err
	}

	live, err := s.live.StakedBalance(ctx, address, chainflipHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to read live balance of %s: %w", address, err)
	}
	liveBalance := decimal.NewFromBigInt(live, 0)

	staked := stakes.Pending.Add(stakes.Completed).Sub(claims.Completed).Sub(claims.Pending)
	rewards := liveBalance.Sub(staked).Sub(stakes.Uncompleted).Add(claims.Uncompleted)

	s.logger.Debug("Balance reconciled",
		zap.String("address", address),
		zap.Uint64("ethereum_height", ethereumHeight),
		zap.Uint64("chainflip_height", chainflipHeight),
		zap.String("live", liveBalance.String()),
		zap.String("staked", staked.String()),
		zap.String("rewards", rewards.String()),
	)

	return &Balance{
		Address:       address,
		StakedBalance: staked,
		Rewards:       rewards,
	}, nil
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	}
	return limit
}

// Stakes lists the most recent stakes of address, newest first
func (s *Service) Stakes(ctx context.Context, address string, limit int) ([]*storage.Stake, error) {
	stakes, err := s.store.Stakes.ListByAddress(ctx, address, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list stakes of %s: %w", address, err)
	}
	return stakes, nil
}

// Claims lists the most recent claims of node, newest first
func (s *Service) Claims(ctx context.Context, node string, limit int) ([]*storage.Claim, error) {
	claims, err := s.store.Claims.ListByNode(ctx, node, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list claims of %s: %w", node, err)
	}
	return claims, nil
}

// Validator returns the stake aggregate of address, or nil when the
// account never had a confirmed stake
func (s *Service) Validator(ctx context.Context, address string) (*storage.Validator, error) {
	v, err := s.store.Validators.Get(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
