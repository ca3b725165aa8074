package fetch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	stakeabi "github.com/0xmhha/staking-indexer/abi"
	"github.com/0xmhha/staking-indexer/events"
	"github.com/0xmhha/staking-indexer/internal/constants"
	"github.com/0xmhha/staking-indexer/internal/retry"
	"github.com/0xmhha/staking-indexer/ledger"
	"github.com/0xmhha/staking-indexer/storage"
)

// EVMSource defines the EVM RPC operations the ingestor needs
type EVMSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]types.Log, error)
	CallContract(ctx context.Context, contract common.Address, data []byte, blockNumber uint64) ([]byte, error)
	BatchTransactionsByHash(ctx context.Context, hashes []common.Hash) ([]*types.Transaction, error)
}

// EVMConfig holds EVM ingestor configuration
type EVMConfig struct {
	// ReorgProtection is the number of blocks kept below the tip
	ReorgProtection uint64

	// MaxBlockRange bounds one FilterLogs window
	MaxBlockRange uint64

	// SS58Prefix renders node ids as ledger addresses
	SS58Prefix uint16

	Retry retry.Policy
}

// Validate validates the EVM ingestor configuration
func (c *EVMConfig) Validate() error {
	if c.MaxBlockRange == 0 {
		return fmt.Errorf("max block range must be positive")
	}
	return nil
}

// EVMIngestor scans StakeManager logs above the ethereum checkpoint
type EVMIngestor struct {
	source   EVMSource
	contract *stakeabi.StakeManager
	store    *storage.Store
	bus      *events.EventBus
	config   EVMConfig
	logger   *zap.Logger
}

// NewEVMIngestor creates a new EVMIngestor. bus may be nil.
func NewEVMIngestor(source EVMSource, contract *stakeabi.StakeManager, store *storage.Store, bus *events.EventBus, config EVMConfig, logger *zap.Logger) *EVMIngestor {
	if config.Retry.OnRetry == nil {
		config.Retry.OnRetry = countRetry
	}
	return &EVMIngestor{
		source:   source,
		contract: contract,
		store:    store,
		bus:      bus,
		config:   config,
		logger:   logger,
	}
}

// evmAction is one decoded log with the chain data needed to apply it
type evmAction struct {
	log      types.Log
	staked   *stakeabi.StakedEvent
	register *stakeabi.ClaimRegisteredEvent
	call     *stakeabi.RegisterClaimCall
	executed *stakeabi.ClaimExecutedEvent
	pending  *stakeabi.PendingClaim
}

// SafeHead returns the EVM tip minus reorg protection
func (e *EVMIngestor) SafeHead(ctx context.Context) (uint64, error) {
	tip, err := retry.DoWithData(ctx, e.config.Retry, e.logger, "eth_blockNumber", func() (uint64, error) {
		return e.source.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	if tip < e.config.ReorgProtection {
		return 0, nil
	}
	safe := tip - e.config.ReorgProtection
	safeHeadHeight.WithLabelValues(events.ChainEthereum).Set(float64(safe))
	return safe, nil
}

// Process indexes one window [checkpoint, min(safe head, checkpoint+range-1)]
// and moves the ethereum checkpoint past it. It returns the new checkpoint,
// or the current one when there is nothing to do.
func (e *EVMIngestor) Process(ctx context.Context) (uint64, error) {
	cp, err := e.store.Checkpoints.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	from := cp.EthereumHeight

	safe, err := e.SafeHead(ctx)
	if err != nil {
		return from, err
	}
	if safe < from {
		e.logger.Debug("No new EVM blocks",
			zap.Uint64("checkpoint", from),
			zap.Uint64("safe_head", safe),
		)
		return from, nil
	}

	to := safe
	if to-from+1 > e.config.MaxBlockRange {
		to = from + e.config.MaxBlockRange - 1
	}

	actions, err := e.gather(ctx, from, to)
	if err != nil {
		if IsFatal(err) {
			consistencyErrors.WithLabelValues(events.ChainEthereum).Inc()
		}
		return from, err
	}

	var notifications []events.Event
	err = e.store.TransactionWithRetry(ctx, constants.TxRetries, func(ctx context.Context) error {
		notifications = notifications[:0]
		for _, action := range actions {
			n, err := e.apply(ctx, action)
			if err != nil {
				return err
			}
			notifications = append(notifications, n)
		}
		return e.store.Checkpoints.AdvanceEthereum(ctx, to+1)
	})
	if err != nil {
		if IsFatal(err) {
			consistencyErrors.WithLabelValues(events.ChainEthereum).Inc()
		}
		return from, err
	}

	blocksProcessed.WithLabelValues(events.ChainEthereum).Add(float64(to - from + 1))
	checkpointHeight.WithLabelValues(events.ChainEthereum).Set(float64(to + 1))
	e.publish(notifications...)

	e.logger.Info("Processed EVM window",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("events", len(actions)),
	)
	return to + 1, nil
}

// gather performs every remote call of the window before the transaction
// opens
func (e *EVMIngestor) gather(ctx context.Context, from, to uint64) ([]evmAction, error) {
	logs, err := retry.DoWithData(ctx, e.config.Retry, e.logger, "eth_getLogs", func() ([]types.Log, error) {
		return e.source.FilterLogs(ctx, e.contract.Address, e.contract.Topics(), from, to)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	actions := make([]evmAction, 0, len(logs))
	var registrations []common.Hash
	seen := make(map[common.Hash]bool)
	for i := range logs {
		log := logs[i]
		if log.Removed {
			continue
		}

		decoded, err := e.contract.DecodeLog(&log)
		if errors.Is(err, stakeabi.ErrUnknownEvent) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode log %s/%d: %w", log.TxHash.Hex(), log.Index, err)
		}

		action := evmAction{log: log}
		switch ev := decoded.(type) {
		case *stakeabi.StakedEvent:
			action.staked = ev
		case *stakeabi.ClaimRegisteredEvent:
			action.register = ev
			if !seen[log.TxHash] {
				seen[log.TxHash] = true
				registrations = append(registrations, log.TxHash)
			}
		case *stakeabi.ClaimExecutedEvent:
			action.executed = ev
			action.pending, err = e.pendingClaim(ctx, ev)
			if err != nil {
				return nil, err
			}
		}
		actions = append(actions, action)
	}

	if len(registrations) == 0 {
		return actions, nil
	}
	calldata, err := e.registerClaimCalldata(ctx, registrations)
	if err != nil {
		return nil, err
	}
	for i := range actions {
		action := &actions[i]
		if action.register == nil {
			continue
		}
		action.call, err = e.contract.DecodeRegisterClaim(calldata[action.log.TxHash])
		if err != nil {
			return nil, &ConsistencyError{
				Chain:  events.ChainEthereum,
				Height: action.log.BlockNumber,
				Entity: "claim registration",
				Key:    action.log.TxHash.Hex(),
				Err:    err,
			}
		}
	}
	return actions, nil
}

// registerClaimCalldata fetches the input of every registerClaim
// transaction of a window in one batch
func (e *EVMIngestor) registerClaimCalldata(ctx context.Context, hashes []common.Hash) (map[common.Hash][]byte, error) {
	txs, err := retry.DoWithData(ctx, e.config.Retry, e.logger, "eth_getTransactionByHash", func() ([]*types.Transaction, error) {
		return e.source.BatchTransactionsByHash(ctx, hashes)
	})
	if err != nil {
		return nil, err
	}
	calldata := make(map[common.Hash][]byte, len(txs))
	for i, tx := range txs {
		calldata[hashes[i]] = tx.Data()
	}
	return calldata, nil
}

// pendingClaim reads getPendingClaim(nodeID) one block before execution
func (e *EVMIngestor) pendingClaim(ctx context.Context, ev *stakeabi.ClaimExecutedEvent) (*stakeabi.PendingClaim, error) {
	data, err := e.contract.PackGetPendingClaim(ev.NodeID)
	if err != nil {
		return nil, err
	}

	at := uint64(0)
	if ev.BlockNumber > 0 {
		at = ev.BlockNumber - 1
	}
	output, err := retry.DoWithData(ctx, e.config.Retry, e.logger, "eth_call", func() ([]byte, error) {
		return e.source.CallContract(ctx, e.contract.Address, data, at)
	})
	if err != nil {
		return nil, err
	}
	return e.contract.UnpackPendingClaim(output)
}

func (e *EVMIngestor) apply(ctx context.Context, action evmAction) (events.Event, error) {
	switch {
	case action.staked != nil:
		return e.applyStaked(ctx, action.staked)
	case action.register != nil:
		return e.applyClaimRegistered(ctx, action.register, action.call)
	default:
		return e.applyClaimExecuted(ctx, action.executed, action.pending)
	}
}

func (e *EVMIngestor) applyStaked(ctx context.Context, ev *stakeabi.StakedEvent) (events.Event, error) {
	hash := ev.TxHash.Hex()
	address, err := ledger.EncodeSS58(ev.NodeID[:], e.config.SS58Prefix)
	if err != nil {
		return nil, err
	}
	amount := decimal.NewFromBigInt(ev.Amount, 0)

	stake, err := e.store.Stakes.GetByHash(ctx, hash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err = e.store.Stakes.Create(ctx, &storage.Stake{
			Hash:            storage.StringPtr(hash),
			Amount:          amount,
			Address:         address,
			InitiatedHeight: storage.Uint64Ptr(ev.BlockNumber),
		})
	case err == nil:
		e.logger.Info("Stake already confirmed on the ledger, setting initiated height",
			zap.String("hash", hash),
			zap.Uint64("height", ev.BlockNumber),
		)
		err = e.store.Stakes.SetInitiated(ctx, stake.ID, ev.BlockNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply Staked %s: %w", hash, err)
	}

	eventsProcessed.WithLabelValues(events.ChainEthereum, stakeabi.EventStaked).Inc()
	return events.NewStakeEvent(events.ChainEthereum, events.ActionInitiated, hash, address, amount.String(), ev.BlockNumber), nil
}

func (e *EVMIngestor) applyClaimRegistered(ctx context.Context, ev *stakeabi.ClaimRegisteredEvent, call *stakeabi.RegisterClaimCall) (events.Event, error) {
	msgHash := stakeabi.MsgHashHex(call.MsgHash)
	node, err := ledger.EncodeSS58(call.NodeID[:], e.config.SS58Prefix)
	if err != nil {
		return nil, err
	}

	reg := storage.ClaimRegistration{
		Node:       node,
		Staker:     ev.Staker.Hex(),
		Amount:     decimal.NewFromBigInt(call.Amount, 0),
		StartTime:  ev.StartTime.Uint64(),
		ExpiryTime: ev.ExpiryTime.Uint64(),
	}

	claim, err := e.store.Claims.GetByMsgHash(ctx, msgHash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err = e.store.Claims.Create(ctx, &storage.Claim{
			MsgHash:    msgHash,
			Node:       reg.Node,
			Staker:     storage.StringPtr(reg.Staker),
			Amount:     reg.Amount,
			StartTime:  storage.Uint64Ptr(reg.StartTime),
			ExpiryTime: storage.Uint64Ptr(reg.ExpiryTime),
		})
	case err == nil:
		err = e.store.Claims.UpdateRegistration(ctx, claim.ID, reg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply ClaimRegistered %s: %w", msgHash, err)
	}

	eventsProcessed.WithLabelValues(events.ChainEthereum, stakeabi.EventClaimRegistered).Inc()
	return events.NewClaimEvent(events.ChainEthereum, events.ActionRegistered, msgHash, node, ev.BlockNumber), nil
}

func (e *EVMIngestor) applyClaimExecuted(ctx context.Context, ev *stakeabi.ClaimExecutedEvent, pending *stakeabi.PendingClaim) (events.Event, error) {
	tuple := storage.ClaimTuple{
		Amount:     decimal.NewFromBigInt(pending.Amount, 0),
		Staker:     pending.Staker.Hex(),
		StartTime:  pending.StartTime.Uint64(),
		ExpiryTime: pending.ExpiryTime.Uint64(),
	}
	key := fmt.Sprintf("(%s, %s, %d, %d)", tuple.Amount, tuple.Staker, tuple.StartTime, tuple.ExpiryTime)

	claim, err := e.store.Claims.FindExecuted(ctx, tuple, ev.BlockNumber)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Error("No claim matches executed pending claim",
			zap.Uint64("height", ev.BlockNumber),
			zap.String("tx", ev.TxHash.Hex()),
			zap.String("tuple", key),
		)
		return nil, &ConsistencyError{Chain: events.ChainEthereum, Height: ev.BlockNumber, Entity: "claim", Key: key, Err: err}
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.Claims.SetCompleted(ctx, claim.ID, ev.BlockNumber); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &ConsistencyError{Chain: events.ChainEthereum, Height: ev.BlockNumber, Entity: "claim", Key: claim.MsgHash, Err: err}
		}
		return nil, err
	}

	e.logger.Info("Claim completed",
		zap.Uint64("id", claim.ID),
		zap.String("msg_hash", claim.MsgHash),
		zap.Uint64("height", ev.BlockNumber),
	)
	eventsProcessed.WithLabelValues(events.ChainEthereum, stakeabi.EventClaimExecuted).Inc()
	return events.NewClaimEvent(events.ChainEthereum, events.ActionCompleted, claim.MsgHash, claim.Node, ev.BlockNumber), nil
}

func (e *EVMIngestor) publish(notifications ...events.Event) {
	if e.bus == nil {
		return
	}
	for _, n := range notifications {
		if !e.bus.Publish(n) {
			e.logger.Debug("Event bus full, dropping notification", zap.String("type", string(n.Type())))
		}
	}
}
