package evm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	scoperr "github.com/mevscope/mevscope/errors"
)

// headReader is the RPC slice the watcher needs.
type headReader interface {
	ChainID() uint64
	BlockNumber(ctx context.Context) (uint64, error)
}

// maxPollBackoff caps the poll delay after consecutive head failures.
const maxPollBackoff = 30 * time.Second

// Watcher polls the chain head and emits every block number exactly
// once, in ascending order. When a poll interval skips over several
// blocks, the gap is emitted too, so no block goes unprocessed.
type Watcher struct {
	reader   headReader
	interval time.Duration
	logger   zerolog.Logger
}

// NewWatcher builds a head watcher with the given poll interval.
func NewWatcher(reader headReader, interval time.Duration, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Watcher{
		reader:   reader,
		interval: interval,
		logger:   logger.With().Str("component", "head_watcher").Uint64("chain_id", reader.ChainID()).Logger(),
	}
}

// Run blocks, sending new block numbers to heads until ctx is done.
// Watching starts at the block after the head observed at startup.
// Poll failures back off exponentially and reset on the next success.
func (w *Watcher) Run(ctx context.Context, heads chan<- uint64) error {
	last, err := w.reader.BlockNumber(ctx)
	if err != nil {
		return scoperr.WrapScope(err, scoperr.ErrCodeConnectivity, w.reader.ChainID(), "fetch initial head")
	}
	w.logger.Info().Uint64("head", last).Dur("interval", w.interval).Msg("watching for new blocks")

	timer := time.NewTimer(w.interval)
	defer timer.Stop()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		latest, err := w.reader.BlockNumber(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			wait := scoperr.ExponentialBackoff(failures, w.interval, maxPollBackoff)
			w.logger.Error().Err(err).Int("failures", failures).Dur("next_poll", wait).Msg("failed to poll chain head")
			timer.Reset(wait)
			continue
		}
		failures = 0

		if latest > last {
			for number := last + 1; number <= latest; number++ {
				select {
				case heads <- number:
				case <-ctx.Done():
					return nil
				}
			}
			last = latest
		}
		timer.Reset(w.interval)
	}
}
