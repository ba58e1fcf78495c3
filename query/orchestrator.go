// Package query drives a filter run end to end: it fetches blocks,
// applies the cheap filter clauses, invokes the trace backend only for
// survivors, and hands matches to a sink in block-and-position order.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/filter"
	"github.com/mevscope/mevscope/model"
	"github.com/mevscope/mevscope/telemetry"
	"github.com/mevscope/mevscope/trace"
)

// defaultPrefetch bounds how many blocks are fetched ahead of the one
// being evaluated in range mode.
const defaultPrefetch = 4

// errLimitReached stops a run cleanly once the match limit is hit.
var errLimitReached = errors.New("match limit reached")

// BlockRange is a resolved, inclusive span of block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

// Size is the number of blocks in the span.
func (r BlockRange) Size() uint64 {
	return r.To - r.From + 1
}

// ParseBlockRange resolves the block-range grammar against the current
// chain head: "latest" is the head block, "N" a single block, "N:M" an
// inclusive span, and "N:" or "N:latest" the last N blocks up to the
// head.
func ParseBlockRange(input string, latest uint64) (BlockRange, error) {
	parts := strings.Split(strings.TrimSpace(input), ":")
	switch {
	case len(parts) == 1 && parts[0] == "latest":
		return BlockRange{From: latest, To: latest}, nil

	case len(parts) == 1:
		number, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return BlockRange{}, scoperr.NewParseError("blocks", fmt.Sprintf("invalid block number %q", parts[0]))
		}
		if number > latest {
			return BlockRange{}, scoperr.NewParseError("blocks", fmt.Sprintf("block %d is past the chain head %d", number, latest))
		}
		return BlockRange{From: number, To: number}, nil

	case len(parts) == 2 && (parts[1] == "" || parts[1] == "latest"):
		count, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil || count == 0 {
			return BlockRange{}, scoperr.NewParseError("blocks", fmt.Sprintf("invalid block count %q", parts[0]))
		}
		from := uint64(0)
		if latest >= count-1 {
			from = latest - (count - 1)
		}
		return BlockRange{From: from, To: latest}, nil

	case len(parts) == 2:
		from, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return BlockRange{}, scoperr.NewParseError("blocks", fmt.Sprintf("invalid start block %q", parts[0]))
		}
		to, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return BlockRange{}, scoperr.NewParseError("blocks", fmt.Sprintf("invalid end block %q", parts[1]))
		}
		if from > to {
			return BlockRange{}, scoperr.NewParseError("blocks", fmt.Sprintf("start block %d is past end block %d", from, to))
		}
		if to > latest {
			return BlockRange{}, scoperr.NewParseError("blocks", fmt.Sprintf("end block %d is past the chain head %d", to, latest))
		}
		return BlockRange{From: from, To: to}, nil

	default:
		return BlockRange{}, scoperr.NewParseError("blocks", fmt.Sprintf("invalid block range %q", input))
	}
}

// BlockSource hydrates one block with transactions and receipts.
type BlockSource interface {
	FetchBlock(ctx context.Context, number uint64) (*model.Block, error)
}

// HeadWatcher announces new block numbers on the heads channel until
// the context ends.
type HeadWatcher interface {
	Run(ctx context.Context, heads chan<- uint64) error
}

// Options tune a single run.
type Options struct {
	// TraceBudget caps how many traces the run may execute. Zero or
	// negative means no cap. Once exhausted, trace-dependent
	// transactions are skipped; cheap-only matches keep flowing.
	TraceBudget int

	// Limit stops the run after this many matches. Zero means no
	// limit.
	Limit int

	// Prefetch is the block fetch window in range mode. Zero picks
	// the default.
	Prefetch int
}

// Params bundles the orchestrator's collaborators.
type Params struct {
	ChainID  uint64
	Source   BlockSource
	Tracer   trace.Tracer // nil when no trace backend is configured
	Spec     *filter.FilterSpec
	Resolver filter.Resolver
	Sink     Sink
	Metrics  *telemetry.Metrics
	Options  Options
}

// Orchestrator runs one query. Blocks are evaluated strictly in order
// and transactions within a block strictly by position, so sinks see
// matches in chain order regardless of fetch concurrency.
type Orchestrator struct {
	chainID  uint64
	source   BlockSource
	tracer   trace.Tracer
	spec     *filter.FilterSpec
	resolver filter.Resolver
	sink     Sink
	opts     Options
	metrics  *telemetry.Metrics
	logger   zerolog.Logger

	tracesRun    int
	budgetWarned bool
	emitted      int
}

func New(p Params, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		chainID:  p.ChainID,
		source:   p.Source,
		tracer:   p.Tracer,
		spec:     p.Spec,
		resolver: p.Resolver,
		sink:     p.Sink,
		opts:     p.Options,
		metrics:  p.Metrics,
		logger:   logger.With().Str("component", "query").Logger(),
	}
}

type fetchResult struct {
	block *model.Block
	err   error
}

// RunRange scans the span ascending. Block fetches overlap up to the
// prefetch window, but evaluation consumes them strictly in order. Any
// block fetch failure aborts the run.
func (o *Orchestrator) RunRange(ctx context.Context, blocks BlockRange) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	window := o.opts.Prefetch
	if window <= 0 {
		window = defaultPrefetch
	}

	o.logger.Info().
		Uint64("from", blocks.From).
		Uint64("to", blocks.To).
		Int("prefetch", window).
		Msg("scanning block range")

	slots := make(chan chan fetchResult, window)
	go o.prefetchBlocks(runCtx, blocks, window, slots)

	for slot := range slots {
		result := <-slot
		if result.err != nil {
			return result.err
		}
		if err := o.processBlock(runCtx, result.block); err != nil {
			if errors.Is(err, errLimitReached) {
				return nil
			}
			return err
		}
	}
	return ctx.Err()
}

// prefetchBlocks dispatches one single-use result channel per block, in
// order, and fills each from a bounded fetcher pool. The slots channel
// is closed once every dispatched fetch has delivered.
func (o *Orchestrator) prefetchBlocks(ctx context.Context, blocks BlockRange, window int, slots chan<- chan fetchResult) {
	g := new(errgroup.Group)
	g.SetLimit(window)

dispatch:
	for number := blocks.From; number <= blocks.To; number++ {
		slot := make(chan fetchResult, 1)
		select {
		case slots <- slot:
		case <-ctx.Done():
			break dispatch
		}
		g.Go(func() error {
			block, err := o.source.FetchBlock(ctx, number)
			slot <- fetchResult{block: block, err: err}
			return nil
		})
	}

	g.Wait()
	close(slots)
}

// RunWatch evaluates blocks as the watcher announces them. A block
// whose fetch fails is skipped with a warning; fatal errors abort.
func (o *Orchestrator) RunWatch(ctx context.Context, watcher HeadWatcher) error {
	heads := make(chan uint64, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(heads)
		return watcher.Run(gctx, heads)
	})
	g.Go(func() error {
		for number := range heads {
			block, err := o.source.FetchBlock(gctx, number)
			if err != nil {
				if scoperr.IsFatal(err) || gctx.Err() != nil {
					return err
				}
				o.logger.Warn().Uint64("block", number).Err(err).Msg("skipping block")
				continue
			}
			if err := o.processBlock(gctx, block); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errLimitReached) {
		return nil
	}
	return err
}

// processBlock walks the block's transactions by position, emitting
// every match. Returns errLimitReached once the match limit is hit.
func (o *Orchestrator) processBlock(ctx context.Context, block *model.Block) error {
	before := o.emitted
	maxPos, bounded := o.spec.MaxPosition()

	for _, tx := range block.Txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if bounded && tx.Position > maxPos {
			break
		}
		if o.spec.PositionPrunes(tx.Position) {
			continue
		}

		switch o.spec.EvaluateCheap(ctx, tx, o.resolver) {
		case filter.VerdictFail:
			continue
		case filter.VerdictPass:
			o.emit(Match{Block: block, Tx: tx})
		case filter.VerdictNeedsTrace:
			if err := o.traceAndEmit(ctx, block, tx); err != nil {
				return err
			}
		}

		if o.opts.Limit > 0 && o.emitted >= o.opts.Limit {
			o.metrics.BlockProcessed()
			return errLimitReached
		}
	}

	o.metrics.BlockProcessed()
	o.logger.Debug().
		Uint64("block", block.Number).
		Int("txs", len(block.Txs)).
		Int("matches", o.emitted-before).
		Msg("block evaluated")
	return nil
}

// traceAndEmit runs the trace phase for one transaction. Trace failures
// and divergences are not fatal: the transaction already passed every
// cheap clause, so it is emitted with trace fields marked unavailable.
func (o *Orchestrator) traceAndEmit(ctx context.Context, block *model.Block, tx *model.Transaction) error {
	if o.tracer == nil {
		return scoperr.NewInternalError(o.chainID, "filter needs traces but no trace backend is configured", nil)
	}

	if o.opts.TraceBudget > 0 && o.tracesRun >= o.opts.TraceBudget {
		if !o.budgetWarned {
			o.logger.Warn().
				Int("budget", o.opts.TraceBudget).
				Msg("trace budget exhausted, skipping trace-dependent transactions")
			o.budgetWarned = true
		}
		o.metrics.TraceSkipped()
		return nil
	}

	started := time.Now()
	result, err := o.tracer.Trace(ctx, block, tx.Position)
	o.tracesRun++
	o.metrics.TraceFinished(err, time.Since(started))

	if err != nil {
		if scoperr.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		o.logger.Warn().
			Uint64("block", block.Number).
			Str("tx", tx.Hash.Hex()).
			Err(err).
			Msg("trace unavailable")
		o.emit(Match{Block: block, Tx: tx, TraceUnavailable: true})
		return nil
	}

	if o.spec.EvaluateTrace(ctx, tx, result, o.resolver) {
		o.emit(Match{Block: block, Tx: tx, Trace: result})
	}
	return nil
}

func (o *Orchestrator) emit(m Match) {
	o.sink.Emit(m)
	o.emitted++
	o.metrics.MatchEmitted()
}
