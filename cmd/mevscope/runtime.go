package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mevscope/mevscope/chainreg"
	"github.com/mevscope/mevscope/chains/evm"
	"github.com/mevscope/mevscope/config"
	"github.com/mevscope/mevscope/db"
	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/metadata"
	"github.com/mevscope/mevscope/model"
	"github.com/mevscope/mevscope/rpcpool"
	"github.com/mevscope/mevscope/trace"
)

const (
	dictionaryDBName = "signatures.db"
	ensDBName        = "ens.db"
)

func chainDBName(chainID uint64) string {
	return fmt.Sprintf("chain_%d.db", chainID)
}

// runtime bundles the live collaborators a command needs: the pooled
// EVM client, the block source, the caches and the chain registry.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger

	client   *evm.Client
	source   *evm.Source
	registry *chainreg.Registry
	entry    *chainreg.Entry
	meta     *metadata.Cache
	pricer   *metadata.Pricer
	simCache *trace.SimulationCache

	chainDB *db.DB
	ensDB   *db.DB
	dictDB  *db.DB
}

// openRuntime assembles the shared stack: databases, chain registry,
// endpoint resolution, the pooled client (with a verified chain id) and
// the metadata layers.
func openRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	var err error
	if rt.dictDB, err = db.OpenFileDB(cfg.DataDir, dictionaryDBName, true); err != nil {
		return nil, err
	}
	if rt.ensDB, err = db.OpenFileDB(cfg.DataDir, ensDBName, true); err != nil {
		rt.Close()
		return nil, err
	}
	if rt.chainDB, err = db.OpenFileDB(cfg.DataDir, chainDBName(cfg.ChainID), true); err != nil {
		rt.Close()
		return nil, err
	}

	rt.registry = chainreg.New(rt.dictDB, chainreg.Options{
		DirectoryURL: cfg.DirectoryURL,
		HTTPClient:   &http.Client{Timeout: cfg.Timeouts.Directory()},
	}, logger)

	// The registry entry feeds display metadata (explorer, price
	// oracle). With an explicit --rpc-url an unknown chain is fine.
	rt.entry, err = rt.registry.Entry(ctx, cfg.ChainID)
	if err != nil {
		if cfg.RPCURL == "" {
			rt.Close()
			return nil, err
		}
		logger.Warn().Uint64("chain_id", cfg.ChainID).Err(err).
			Msg("chain registry lookup failed, display metadata unavailable")
	}

	urls, err := resolveEndpoints(ctx, cfg, rt.registry, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.client, err = evm.NewClient(ctx, cfg.ChainID, urls, rpcpool.Config{}, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.client.VerifyChainID(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	rt.meta, err = metadata.NewCache(
		metadata.Config{ChainID: cfg.ChainID, CacheOnly: cfg.CacheOnly},
		rt.client, rt.chainDB, rt.ensDB, rt.dictDB, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	oracle := ""
	if rt.entry != nil {
		oracle = rt.entry.PriceOracle
	}
	rt.pricer = metadata.NewPricer(rt.client, oracle, logger)
	rt.simCache = trace.NewSimulationCache(rt.chainDB, logger)
	rt.source = evm.NewSource(rt.client, logger)

	return rt, nil
}

// Close releases the pool and the databases. Safe on a partially
// assembled runtime.
func (rt *runtime) Close() {
	if rt.client != nil {
		rt.client.Close()
	}
	for _, database := range []*db.DB{rt.chainDB, rt.ensDB, rt.dictDB} {
		if database != nil {
			_ = database.Close()
		}
	}
}

// openRegistry opens only the directory cache, for commands that read
// chain metadata without touching any RPC endpoint.
func openRegistry(cfg *config.Config, logger zerolog.Logger) (*chainreg.Registry, *db.DB, error) {
	dictDB, err := db.OpenFileDB(cfg.DataDir, dictionaryDBName, true)
	if err != nil {
		return nil, nil, err
	}
	registry := chainreg.New(dictDB, chainreg.Options{
		DirectoryURL: cfg.DirectoryURL,
		HTTPClient:   &http.Client{Timeout: cfg.Timeouts.Directory()},
	}, logger)
	return registry, dictDB, nil
}

// blockSource wraps the raw source with the data-retrieval deadline.
func (rt *runtime) blockSource() *timedSource {
	return &timedSource{inner: rt.source, timeout: rt.cfg.Timeouts.Fetch()}
}

// buildTracer constructs the trace backend for the given mode, or nil
// for ModeOff. Native executions get the per-call trace deadline; local
// replay paces itself on the run context, since one replay spans many
// calls.
func (rt *runtime) buildTracer(ctx context.Context, mode trace.Mode) (trace.Tracer, error) {
	if mode == trace.ModeOff {
		return nil, nil
	}
	backend, err := trace.NewTracer(ctx, mode, rt.cfg.ChainID, rt.client, rt.simCache, rt.logger)
	if err != nil {
		return nil, err
	}
	if native, ok := backend.(*trace.NativeTracer); ok {
		return &timedTracer{inner: native, timeout: rt.cfg.Timeouts.Trace()}, nil
	}
	return backend, nil
}

// resolveEndpoints returns the pool URL list: the operator's endpoint
// plus fallbacks when given, otherwise the fastest directory candidates.
func resolveEndpoints(ctx context.Context, cfg *config.Config, registry *chainreg.Registry, logger zerolog.Logger) ([]string, error) {
	if cfg.RPCURL != "" {
		return append([]string{cfg.RPCURL}, cfg.FallbackRPCURLs...), nil
	}

	candidates, err := registry.Endpoints(ctx, cfg.ChainID)
	if err != nil {
		return nil, err
	}

	ranked, err := rpcpool.Benchmark(ctx, logger, cfg.ChainID, candidates, rpcpool.BenchmarkOptions{
		Timeout:     cfg.Timeouts.Benchmark(),
		Concurrency: cfg.BenchmarkConcurrency,
		Limit:       cfg.BenchmarkLimit,
		Probe:       evm.Probe(),
	})
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, scoperr.NewConnectivityError(cfg.ChainID,
			fmt.Sprintf("no responsive RPC endpoints for chain %d", cfg.ChainID), nil)
	}

	urls := make([]string, len(ranked))
	for i, candidate := range ranked {
		urls[i] = candidate.URL
	}
	logger.Info().Int("endpoints", len(urls)).Str("fastest", urls[0]).Msg("endpoints selected")
	return urls, nil
}

// timedSource applies a per-fetch deadline on top of the run context.
type timedSource struct {
	inner   *evm.Source
	timeout time.Duration
}

func (s *timedSource) FetchBlock(ctx context.Context, number uint64) (*model.Block, error) {
	if s.timeout <= 0 {
		return s.inner.FetchBlock(ctx, number)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inner.FetchBlock(fetchCtx, number)
}

// timedTracer applies a per-execution deadline on top of the run context.
type timedTracer struct {
	inner   trace.Tracer
	timeout time.Duration
}

func (t *timedTracer) Trace(ctx context.Context, block *model.Block, position uint32) (*model.TraceResult, error) {
	if t.timeout <= 0 {
		return t.inner.Trace(ctx, block, position)
	}
	traceCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Trace(traceCtx, block, position)
}
