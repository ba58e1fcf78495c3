package rpcpool

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	scoperr "github.com/mevscope/mevscope/errors"
)

// Candidate is one probed endpoint: its URL, measured round-trip
// latency, and the chain id it reported.
type Candidate struct {
	URL     string
	Latency time.Duration
	ChainID uint64
}

// Prober issues a single liveness probe against url and returns the
// chain id the endpoint reports. The EVM layer supplies the production
// prober; tests inject fakes.
type Prober func(ctx context.Context, url string) (uint64, error)

// BenchmarkOptions tune a Benchmark run. Zero values fall back to
// defaults (1s probe timeout, 10 concurrent probes, unlimited results).
type BenchmarkOptions struct {
	Timeout     time.Duration
	Concurrency int
	// Limit truncates the ranked result list; 0 keeps all survivors.
	Limit int
	Probe Prober
}

func (o BenchmarkOptions) withDefaults() BenchmarkOptions {
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	return o
}

// Benchmark probes the candidate URLs concurrently and ranks the
// survivors by ascending latency. Unreachable, too-slow and
// wrong-chain endpoints are dropped, never failing the run: an empty
// result with a populated input is valid and distinct from having no
// candidates at all.
func Benchmark(ctx context.Context, logger zerolog.Logger, chainID uint64, urls []string, opts BenchmarkOptions) ([]Candidate, error) {
	if len(urls) == 0 {
		return nil, scoperr.NewNotFoundError(chainID, "no RPC URL candidates to benchmark")
	}

	opts = opts.withDefaults()
	if opts.Probe == nil {
		return nil, scoperr.NewInternalError(chainID, "benchmark requires a probe function", nil)
	}

	log := logger.With().Str("component", "rpc_benchmark").Uint64("chain_id", chainID).Logger()
	usable := FilterURLs(urls)
	log.Debug().
		Int("candidates", len(urls)).
		Int("probeable", len(usable)).
		Dur("timeout", opts.Timeout).
		Msg("benchmarking RPC URLs")

	var (
		mu        sync.Mutex
		survivors []Candidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, url := range usable {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			probeCtx, cancel := context.WithTimeout(gctx, opts.Timeout)
			defer cancel()

			start := time.Now()
			reported, err := opts.Probe(probeCtx, url)
			latency := time.Since(start)

			switch {
			case err != nil:
				log.Debug().Str("url", url).Dur("latency", latency).Err(err).Msg("probe failed")
			case reported != chainID:
				log.Debug().Str("url", url).
					Uint64("reported_chain_id", reported).
					Msg("probe discarded, chain id mismatch")
			default:
				mu.Lock()
				survivors = append(survivors, Candidate{URL: url, Latency: latency, ChainID: reported})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, scoperr.WrapScope(err, scoperr.ErrCodeConnectivity, chainID, "benchmark interrupted")
	}

	sort.Slice(survivors, func(i, j int) bool {
		return survivors[i].Latency < survivors[j].Latency
	})
	if opts.Limit > 0 && len(survivors) > opts.Limit {
		survivors = survivors[:opts.Limit]
	}

	log.Debug().Int("survivors", len(survivors)).Msg("benchmark finished")
	return survivors, nil
}

// FilterURLs drops candidates the benchmark cannot probe: provider
// templates with unexpanded "${...}" placeholders and non-https
// schemes (websocket and plain-http directory entries).
func FilterURLs(urls []string) []string {
	usable := make([]string, 0, len(urls))
	for _, url := range urls {
		if strings.Contains(url, "${") {
			continue
		}
		if !strings.HasPrefix(url, "https://") {
			continue
		}
		usable = append(usable, url)
	}
	return usable
}
