package fetch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/0xmhha/staking-indexer/events"
)

// SyncLedger indexes ledger blocks (checkpoint, target] in runs of
// BatchSize concurrent per-block tasks. The chainflip checkpoint moves to
// the end of a run only after every task of the run succeeded.
func (ix *Indexer) SyncLedger(ctx context.Context, target uint64) error {
	cp, err := ix.store.Checkpoints.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	ix.logger.Info("Syncing ledger",
		zap.Uint64("from", cp.ChainflipHeight),
		zap.Uint64("to", target),
		zap.Int("batch_size", ix.config.BatchSize),
	)

	batch := uint64(ix.config.BatchSize)
	for start := cp.ChainflipHeight; start < target; start += batch {
		end := start + batch
		if end > target {
			end = target
		}

		began := time.Now()
		if err := ix.runBatch(ctx, start+1, end); err != nil {
			return fmt.Errorf("ledger batch %d-%d failed: %w", start+1, end, err)
		}
		batchDuration.Observe(time.Since(began).Seconds())

		if err := ix.store.Checkpoints.AdvanceChainflip(ctx, end); err != nil {
			return err
		}
		checkpointHeight.WithLabelValues(events.ChainChainflip).Set(float64(end))
		ix.publishCheckpoint(events.ChainChainflip, end)

		ix.logger.Info("Ledger batch synced",
			zap.Uint64("from", start+1),
			zap.Uint64("to", end),
			zap.Duration("took", time.Since(began)),
		)
	}
	return nil
}

// runBatch dispatches one task per block, staggered by DispatchDelay, and
// waits for all of them. A failing task does not cancel its siblings.
func (ix *Indexer) runBatch(ctx context.Context, from, to uint64) error {
	limit := rate.Inf
	if ix.config.DispatchDelay > 0 {
		limit = rate.Every(ix.config.DispatchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	var g errgroup.Group
	g.SetLimit(ix.config.BatchSize)

	var dispatchErr error
	for height := from; height <= to; height++ {
		if err := limiter.Wait(ctx); err != nil {
			dispatchErr = err
			break
		}
		height := height
		g.Go(func() error {
			if err := ix.ledger.IndexBlock(ctx, height); err != nil {
				ix.logger.Error("Block failed to sync",
					zap.Uint64("height", height),
					zap.Error(err),
				)
				return fmt.Errorf("block %d: %w", height, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return dispatchErr
}
