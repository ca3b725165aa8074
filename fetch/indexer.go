package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/events"
	"github.com/0xmhha/staking-indexer/internal/constants"
	"github.com/0xmhha/staking-indexer/storage"
)

// State is the synchronization mode of the indexer
type State int32

const (
	// StateCatchingUp drives the ledger through concurrent batch runs
	StateCatchingUp State = iota
	// StateLive indexes both chains sequentially on every poll
	StateLive
)

func (s State) String() string {
	switch s {
	case StateCatchingUp:
		return "catching_up"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// Config holds the state machine configuration
type Config struct {
	// SyncThreshold is the ledger lag above which batch sync is used
	SyncThreshold uint64

	// PollInterval is the delay between live passes
	PollInterval time.Duration

	// BatchSize is the number of ledger blocks indexed concurrently per run
	BatchSize int

	// DispatchDelay staggers the tasks of one run
	DispatchDelay time.Duration

	// MaxLiveFailures is the number of consecutive failed live passes
	// tolerated before Run returns. Zero uses the default.
	MaxLiveFailures int

	// EVMStartHeight and LedgerStartHeight seed an empty checkpoint
	EVMStartHeight    uint64
	LedgerStartHeight uint64
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BatchSize <= 0 || c.BatchSize > constants.MaxLedgerBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d", constants.MaxLedgerBatchSize)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.DispatchDelay < 0 {
		return errors.New("dispatch delay cannot be negative")
	}
	if c.MaxLiveFailures < 0 {
		return errors.New("max live failures cannot be negative")
	}
	return nil
}

// Indexer runs both ingestors: batch catch-up on the ledger first, then a
// steady live loop over both chains.
type Indexer struct {
	evm    *EVMIngestor
	ledger *LedgerIngestor
	store  *storage.Store
	bus    *events.EventBus
	config Config
	logger *zap.Logger

	state atomic.Int32
}

// NewIndexer creates a new Indexer. bus may be nil.
func NewIndexer(evm *EVMIngestor, ledger *LedgerIngestor, store *storage.Store, bus *events.EventBus, config Config, logger *zap.Logger) (*Indexer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid indexer config: %w", err)
	}
	if config.MaxLiveFailures == 0 {
		config.MaxLiveFailures = constants.DefaultMaxLiveFailures
	}
	return &Indexer{
		evm:    evm,
		ledger: ledger,
		store:  store,
		bus:    bus,
		config: config,
		logger: logger,
	}, nil
}

// State returns the current synchronization mode
func (ix *Indexer) State() State {
	return State(ix.state.Load())
}

func (ix *Indexer) setState(s State) {
	ix.state.Store(int32(s))
	if s == StateLive {
		syncLive.Set(1)
	} else {
		syncLive.Set(0)
	}
}

// Run blocks until ctx is cancelled or a fatal error occurs. Consistency
// errors and catch-up failures are returned. Transient errors in live mode
// are retried on the next poll until MaxLiveFailures passes in a row fail.
func (ix *Indexer) Run(ctx context.Context) error {
	cp, err := ix.store.Checkpoints.Init(ctx, ix.config.EVMStartHeight, ix.config.LedgerStartHeight)
	if err != nil {
		return err
	}
	ix.logger.Info("Starting indexer",
		zap.Uint64("ethereum_height", cp.EthereumHeight),
		zap.Uint64("chainflip_height", cp.ChainflipHeight),
		zap.Uint64("sync_threshold", ix.config.SyncThreshold),
	)

	ix.setState(StateCatchingUp)
	if err := ix.processEVM(ctx); err != nil {
		return fmt.Errorf("initial EVM pass failed: %w", err)
	}
	if err := ix.catchUp(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(ix.config.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := ix.poll(ctx); err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				return err
			}
			failures++
			ix.logger.Error("Live pass failed",
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= ix.config.MaxLiveFailures {
				return fmt.Errorf("live sync failed %d times in a row: %w", failures, err)
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			ix.logger.Info("Indexer stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// catchUp runs batch sync until the ledger lag is within the threshold and
// switches to live mode
func (ix *Indexer) catchUp(ctx context.Context) error {
	for {
		lag, safe, err := ix.ledgerLag(ctx)
		if err != nil {
			return err
		}
		if lag <= ix.config.SyncThreshold {
			if ix.State() != StateLive {
				ix.logger.Info("Switching to live sync",
					zap.Uint64("lag", lag),
					zap.Uint64("safe_head", safe),
				)
				ix.setState(StateLive)
			}
			return nil
		}

		if ix.State() != StateCatchingUp {
			ix.logger.Warn("Ledger fell behind, switching to batch sync", zap.Uint64("lag", lag))
			ix.setState(StateCatchingUp)
		}
		if err := ix.SyncLedger(ctx, safe); err != nil {
			return err
		}
	}
}

// poll is one live pass: the EVM window, then every ledger block up to the
// safe head in order
func (ix *Indexer) poll(ctx context.Context) error {
	if err := ix.processEVM(ctx); err != nil {
		return err
	}

	// a long outage is caught up in batches again
	if err := ix.catchUp(ctx); err != nil {
		return err
	}

	cp, err := ix.store.Checkpoints.Get(ctx)
	if err != nil {
		return err
	}
	safe, err := ix.ledger.SafeHead(ctx)
	if err != nil {
		return err
	}
	for height := cp.ChainflipHeight + 1; height <= safe; height++ {
		if err := ix.ledger.IndexAndAdvance(ctx, height); err != nil {
			return err
		}
		ix.publishCheckpoint(events.ChainChainflip, height)
	}
	return nil
}

// processEVM runs EVM windows until one comes back short, so a pass always
// reaches the safe head
func (ix *Indexer) processEVM(ctx context.Context) error {
	cp, err := ix.store.Checkpoints.Get(ctx)
	if err != nil {
		return err
	}
	from := cp.EthereumHeight

	for {
		next, err := ix.evm.Process(ctx)
		if err != nil {
			return err
		}
		if next == from {
			return nil
		}
		ix.publishCheckpoint(events.ChainEthereum, next)
		if next-from < ix.evm.config.MaxBlockRange {
			return nil
		}
		from = next
	}
}

// ledgerLag returns safe head minus the chainflip checkpoint, and the safe head
func (ix *Indexer) ledgerLag(ctx context.Context) (uint64, uint64, error) {
	safe, err := ix.ledger.SafeHead(ctx)
	if err != nil {
		return 0, 0, err
	}
	cp, err := ix.store.Checkpoints.Get(ctx)
	if err != nil {
		return 0, 0, err
	}
	if safe <= cp.ChainflipHeight {
		return 0, safe, nil
	}
	return safe - cp.ChainflipHeight, safe, nil
}

func (ix *Indexer) publishCheckpoint(chain string, height uint64) {
	if ix.bus == nil {
		return
	}
	ix.bus.Publish(events.NewCheckpointEvent(chain, height, ix.State() == StateLive))
}
