package trace

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/model"
)

// divergenceGasTolerance is the relative gas-used deviation tolerated
// between the local execution and the on-chain receipt before the
// outcome is reported as divergent. Replay approximates the block
// environment, so small deviations are expected.
const divergenceGasTolerance = 0.10

// Replayer produces traces by sequentially re-executing a block's
// transactions in position order, so the target sees the state its
// predecessors left behind. The highest replayed prefix of every block
// is checkpointed; a later query for a position past the checkpoint
// resumes from it instead of restarting.
type Replayer struct {
	chainID  uint64
	executor Executor
	cache    *SimulationCache
	logger   zerolog.Logger
}

// NewReplayer builds the replay-backed Tracer.
func NewReplayer(chainID uint64, executor Executor, cache *SimulationCache, logger zerolog.Logger) *Replayer {
	return &Replayer{
		chainID:  chainID,
		executor: executor,
		cache:    cache,
		logger:   logger.With().Str("component", "replayer").Logger(),
	}
}

// Trace implements Tracer.
//
// The stored checkpoint holds the overlay after committing positions
// 0..k. A target past k restores it and executes k+1 through the
// target; a target at or below k restarts from the block start, because
// the target's pre-state is no longer reconstructible from the overlay.
// Interrupted replays persist nothing.
func (r *Replayer) Trace(ctx context.Context, block *model.Block, position uint32) (*model.TraceResult, error) {
	tx := block.Tx(position)
	if tx == nil {
		return nil, scoperr.NewTraceError(r.chainID,
			fmt.Sprintf("block %d has no position %d", block.Number, position), nil)
	}

	release := r.cache.LockBlock(r.chainID, block.Number)
	defer release()

	view := NewStateView()
	start := uint32(0)

	if ckpt, ok := r.cache.Lookup(r.chainID, block.Number); ok {
		switch {
		case position > ckpt.Position:
			if err := view.Restore(ckpt.Overlay); err != nil {
				r.logger.Warn().Uint64("block", block.Number).Err(err).
					Msg("corrupt checkpoint overlay, replaying from the block start")
				view = NewStateView()
			} else {
				start = ckpt.Position + 1
				r.logger.Debug().Uint64("block", block.Number).
					Uint32("checkpoint", ckpt.Position).Uint32("target", position).
					Msg("resuming replay from checkpoint")
			}
		default:
			// The overlay already contains the target's own writes, so
			// its pre-state only exists at the block start.
			r.logger.Debug().Uint64("block", block.Number).
				Uint32("checkpoint", ckpt.Position).Uint32("target", position).
				Msg("target at or before checkpoint, replaying from the block start")
		}
	}

	var target *Outcome
	for pos := start; pos <= position; pos++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "replay of block %d interrupted at position %d", block.Number, pos)
		}

		outcome, err := r.executor.Execute(ctx, view, block, block.Txs[pos])
		if err != nil {
			return nil, scoperr.WrapScope(err, scoperr.ErrCodeTrace, r.chainID,
				fmt.Sprintf("replay of block %d failed at position %d", block.Number, pos))
		}

		view.Apply(outcome.Diff)
		if pos == position {
			target = outcome
		}
	}

	r.persist(block.Number, position, view)

	if err := r.checkDivergence(tx, target, block.Number); err != nil {
		return nil, err
	}

	return &model.TraceResult{
		Root:             target.Root,
		Touched:          target.Touched,
		CoinbaseTransfer: findCoinbaseTransfer(block.Coinbase, &target.Root),
		GasUsed:          target.GasUsed,
		Success:          target.Success,
	}, nil
}

// persist checkpoints the committed prefix. Failures are logged, not
// returned: the trace itself is already correct.
func (r *Replayer) persist(block uint64, position uint32, view *StateView) {
	encoded, err := view.Encode()
	if err != nil {
		r.logger.Warn().Uint64("block", block).Err(err).Msg("overlay encode failed")
		return
	}
	if err := r.cache.Persist(r.chainID, block, position, encoded); err != nil {
		r.logger.Warn().Uint64("block", block).Err(err).Msg("checkpoint write failed")
	}
}

// checkDivergence compares the local outcome with the receipt. The
// committed prefix stays checkpointed either way; only the report is
// withheld.
func (r *Replayer) checkDivergence(tx *model.Transaction, outcome *Outcome, block uint64) error {
	if outcome.Success != tx.Success {
		return scoperr.NewDivergenceError(r.chainID, fmt.Sprintf(
			"local replay of %s reports success=%t, receipt says success=%t",
			tx.Hash, outcome.Success, tx.Success))
	}

	if outcome.GasUsed > 0 && tx.GasUsed > 0 {
		diff := float64(outcome.GasUsed) - float64(tx.GasUsed)
		if diff < 0 {
			diff = -diff
		}
		if diff/float64(tx.GasUsed) > divergenceGasTolerance {
			return scoperr.NewDivergenceError(r.chainID, fmt.Sprintf(
				"local replay of %s used %d gas, receipt says %d",
				tx.Hash, outcome.GasUsed, tx.GasUsed))
		}
	}
	return nil
}
