package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/events"
	"github.com/0xmhha/staking-indexer/internal/constants"
	"github.com/0xmhha/staking-indexer/internal/retry"
	"github.com/0xmhha/staking-indexer/ledger"
	"github.com/0xmhha/staking-indexer/storage"
)

// Ledger event names
const (
	LedgerEventStaked                    = "Staked"
	LedgerEventThresholdSignatureRequest = "ThresholdSignatureRequest"
	LedgerEventClaimExpired              = "ClaimExpired"
)

// LedgerConfig holds ledger ingestor configuration
type LedgerConfig struct {
	// ReorgProtection is the number of blocks kept below the best block
	ReorgProtection uint64

	// StakingPallet is the pallet whose extrinsics start claims
	StakingPallet string

	// SS58Prefix renders account ids
	SS58Prefix uint16

	Retry retry.Policy
}

// LedgerIngestor applies the staking events of one ledger block
type LedgerIngestor struct {
	source ledger.Source
	store  *storage.Store
	bus    *events.EventBus
	config LedgerConfig
	logger *zap.Logger
}

// NewLedgerIngestor creates a new LedgerIngestor. bus may be nil.
func NewLedgerIngestor(source ledger.Source, store *storage.Store, bus *events.EventBus, config LedgerConfig, logger *zap.Logger) *LedgerIngestor {
	if config.Retry.OnRetry == nil {
		config.Retry.OnRetry = countRetry
	}
	return &LedgerIngestor{
		source: source,
		store:  store,
		bus:    bus,
		config: config,
		logger: logger,
	}
}

// SafeHead returns the best block height minus reorg protection
func (l *LedgerIngestor) SafeHead(ctx context.Context) (uint64, error) {
	tip, err := retry.DoWithData(ctx, l.config.Retry, l.logger, "chain_getHeader", func() (uint64, error) {
		return l.source.LatestHeight(ctx)
	})
	if err != nil {
		return 0, err
	}
	if tip < l.config.ReorgProtection {
		return 0, nil
	}
	safe := tip - l.config.ReorgProtection
	safeHeadHeight.WithLabelValues(events.ChainChainflip).Set(float64(safe))
	return safe, nil
}

// IndexBlock fetches the block at height and applies its events in one
// transaction. It does not touch the checkpoint and is safe to replay.
func (l *LedgerIngestor) IndexBlock(ctx context.Context, height uint64) error {
	return l.index(ctx, height, false)
}

// IndexAndAdvance is IndexBlock with the chainflip checkpoint moved to
// height in the same transaction
func (l *LedgerIngestor) IndexAndAdvance(ctx context.Context, height uint64) error {
	return l.index(ctx, height, true)
}

func (l *LedgerIngestor) index(ctx context.Context, height uint64, advance bool) error {
	block, err := retry.DoWithData(ctx, l.config.Retry, l.logger, "ledger_block", func() (*ledger.Block, error) {
		return l.source.Block(ctx, height)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch ledger block %d: %w", height, err)
	}

	var notifications []events.Event
	err = l.store.TransactionWithRetry(ctx, constants.TxRetries, func(ctx context.Context) error {
		applied, err := l.apply(ctx, block)
		if err != nil {
			return err
		}
		notifications = applied
		if advance {
			return l.store.Checkpoints.AdvanceChainflip(ctx, height)
		}
		return nil
	})
	if err != nil {
		if IsFatal(err) {
			consistencyErrors.WithLabelValues(events.ChainChainflip).Inc()
		}
		return err
	}

	blocksProcessed.WithLabelValues(events.ChainChainflip).Inc()
	if advance {
		checkpointHeight.WithLabelValues(events.ChainChainflip).Set(float64(height))
	}
	for _, n := range notifications {
		if l.bus != nil {
			l.bus.Publish(n)
		}
	}

	l.logger.Debug("Indexed ledger block",
		zap.Uint64("height", height),
		zap.Int("events", len(block.Events)),
		zap.Int("applied", len(notifications)),
	)
	return nil
}

func (l *LedgerIngestor) apply(ctx context.Context, block *ledger.Block) ([]events.Event, error) {
	var notifications []events.Event
	// per-node ClaimExpired occurrences within this block
	expiries := make(map[string]int64)

	for i := range block.Events {
		event := &block.Events[i]

		var (
			n   events.Event
			err error
		)
		switch event.Name {
		case LedgerEventStaked:
			n, err = l.applyStaked(ctx, block, event)
		case LedgerEventThresholdSignatureRequest:
			n, err = l.applySignatureRequest(ctx, block, event)
		case LedgerEventClaimExpired:
			n, err = l.applyClaimExpired(ctx, block, event, expiries)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if n != nil {
			notifications = append(notifications, n)
		}
	}
	return notifications, nil
}

// applyStaked confirms a stake: Staked(account_id, tx_hash, stake_added, total_stake)
func (l *LedgerIngestor) applyStaked(ctx context.Context, block *ledger.Block, event *ledger.Event) (events.Event, error) {
	account, err := event.BytesAttr(0)
	if err != nil {
		return nil, err
	}
	txHash, err := event.BytesAttr(1)
	if err != nil {
		return nil, err
	}
	added, err := event.BigAttr(2)
	if err != nil {
		return nil, err
	}

	address, err := ledger.EncodeSS58(account, l.config.SS58Prefix)
	if err != nil {
		return nil, err
	}
	hash := ledger.HexString(txHash)
	amount := decimal.NewFromBigInt(added, 0)

	credit := false
	stake, err := l.store.Stakes.GetByHash(ctx, hash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// confirmed on the ledger before the EVM side was indexed
		l.logger.Warn("Stake not found, creating orphan",
			zap.String("hash", hash),
			zap.String("address", address),
			zap.Uint64("height", block.Height),
		)
		err = l.store.Stakes.Create(ctx, &storage.Stake{
			Hash:            storage.StringPtr(hash),
			Amount:          amount,
			Address:         address,
			CompletedHeight: storage.Uint64Ptr(block.Height),
		})
		credit = true
	case err == nil:
		credit, err = l.store.Stakes.SetCompleted(ctx, stake.ID, block.Height)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply Staked %s: %w", hash, err)
	}

	// replays leave completed_height unchanged and must not credit twice
	if !credit {
		return nil, nil
	}
	if err := l.store.Validators.AddStake(ctx, address, amount); err != nil {
		return nil, err
	}

	eventsProcessed.WithLabelValues(events.ChainChainflip, LedgerEventStaked).Inc()
	return events.NewStakeEvent(events.ChainChainflip, events.ActionCompleted, hash, address, amount.String(), block.Height), nil
}

// applySignatureRequest records a claim initiated by a staking extrinsic.
// The payload, the fourth attribute, is the message hash signed for the
// EVM contract.
func (l *LedgerIngestor) applySignatureRequest(ctx context.Context, block *ledger.Block, event *ledger.Event) (events.Event, error) {
	extrinsic, ok := block.Extrinsic(event.ExtrinsicIndex)
	if !ok || extrinsic.Pallet != l.config.StakingPallet {
		return nil, nil
	}

	payload, err := event.BytesAttr(3)
	if err != nil {
		return nil, err
	}
	msgHash := ledger.HexString(payload)

	l.logger.Info("Found claim initiation",
		zap.String("id", fmt.Sprintf("%d-%d", block.Height, extrinsic.Index)),
		zap.String("msg_hash", msgHash),
	)

	claim, err := l.store.Claims.GetByMsgHash(ctx, msgHash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if len(extrinsic.Signer) == 0 {
			return nil, &ConsistencyError{Chain: events.ChainChainflip, Height: block.Height, Entity: "claim extrinsic", Key: extrinsic.Hash, Err: errors.New("unsigned")}
		}
		node, err := ledger.EncodeSS58(extrinsic.Signer, l.config.SS58Prefix)
		if err != nil {
			return nil, err
		}

		amount := decimal.Zero
		if exact, err := ledger.DecodeClaimAmount(extrinsic.Args); err == nil {
			amount = decimal.NewFromBigInt(exact, 0)
		} else {
			// Max claims learn their amount from the EVM registration
			l.logger.Warn("Claim amount not decodable from extrinsic",
				zap.String("extrinsic", extrinsic.Hash),
				zap.Error(err),
			)
		}

		err = l.store.Claims.Create(ctx, &storage.Claim{
			MsgHash:         msgHash,
			ChainflipHash:   storage.StringPtr(extrinsic.Hash),
			Node:            node,
			Amount:          amount,
			InitiatedHeight: storage.Uint64Ptr(block.Height),
		})
		if err != nil {
			return nil, err
		}
		eventsProcessed.WithLabelValues(events.ChainChainflip, LedgerEventThresholdSignatureRequest).Inc()
		return events.NewClaimEvent(events.ChainChainflip, events.ActionInitiated, msgHash, node, block.Height), nil
	case err != nil:
		return nil, err
	}

	if err := l.store.Claims.UpdateInitiation(ctx, claim.ID, block.Height, extrinsic.Hash); err != nil {
		return nil, err
	}
	eventsProcessed.WithLabelValues(events.ChainChainflip, LedgerEventThresholdSignatureRequest).Inc()
	return events.NewClaimEvent(events.ChainChainflip, events.ActionInitiated, msgHash, claim.Node, block.Height), nil
}

// applyClaimExpired expires the oldest open claim of the node
func (l *LedgerIngestor) applyClaimExpired(ctx context.Context, block *ledger.Block, event *ledger.Event, expiries map[string]int64) (events.Event, error) {
	account, err := event.BytesAttr(0)
	if err != nil {
		return nil, err
	}
	node, err := ledger.EncodeSS58(account, l.config.SS58Prefix)
	if err != nil {
		return nil, err
	}

	occurrence := expiries[node]
	expiries[node]++

	// a replayed block already expired its claims at this height
	done, err := l.store.Claims.CountExpiredAt(ctx, node, block.Height)
	if err != nil {
		return nil, err
	}
	if done > occurrence {
		return nil, nil
	}

	claim, err := l.store.Claims.OldestPendingByNode(ctx, node)
	if errors.Is(err, storage.ErrNotFound) {
		l.logger.Error("Claim not found for expiry",
			zap.String("node", node),
			zap.Uint64("height", block.Height),
		)
		return nil, &ConsistencyError{Chain: events.ChainChainflip, Height: block.Height, Entity: "claim", Key: node, Err: err}
	}
	if err != nil {
		return nil, err
	}

	if err := l.store.Claims.SetExpired(ctx, claim.ID, block.Height); err != nil {
		return nil, err
	}

	l.logger.Info("Claim expired",
		zap.Uint64("id", claim.ID),
		zap.String("node", node),
		zap.Uint64("height", block.Height),
	)
	eventsProcessed.WithLabelValues(events.ChainChainflip, LedgerEventClaimExpired).Inc()
	return events.NewClaimEvent(events.ChainChainflip, events.ActionExpired, claim.MsgHash, node, block.Height), nil
}
