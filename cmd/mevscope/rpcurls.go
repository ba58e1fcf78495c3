package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mevscope/mevscope/chains/evm"
	"github.com/mevscope/mevscope/logger"
	"github.com/mevscope/mevscope/rpcpool"
)

func rpcURLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpc-urls",
		Short: "Probe the chain's public RPC endpoints and rank them by latency",
		Long: `Probe every public RPC endpoint the directory lists for the selected
chain and print the responsive ones, fastest first. Endpoints that are
unreachable, too slow or report the wrong chain id are dropped.`,
		Example: `  mevscope rpc-urls
  mevscope rpc-urls --chain-id 8453 --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRPCURLs(cmd)
		},
	}

	flags := cmd.Flags()
	flags.Int("limit", 0, "keep only the fastest N endpoints, 0 keeps all")
	flags.Duration("timeout", 0, "per-endpoint probe deadline")

	return cmd
}

func runRPCURLs(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

	flags := cmd.Flags()
	limit, _ := flags.GetInt("limit")
	timeout, _ := flags.GetDuration("timeout")
	if timeout <= 0 {
		timeout = cfg.Timeouts.Benchmark()
	}

	registry, dictDB, err := openRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = dictDB.Close() }()

	candidates, err := registry.Endpoints(ctx, cfg.ChainID)
	if err != nil {
		return err
	}

	ranked, err := rpcpool.Benchmark(ctx, log, cfg.ChainID, candidates, rpcpool.BenchmarkOptions{
		Timeout:     timeout,
		Concurrency: cfg.BenchmarkConcurrency,
		Limit:       limit,
		Probe:       evm.Probe(),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(ranked) == 0 {
		fmt.Fprintf(out, "no responsive endpoints among %d candidates\n", len(candidates))
		return nil
	}
	for _, candidate := range ranked {
		fmt.Fprintf(out, "%8s  %s\n", candidate.Latency.Round(time.Millisecond), candidate.URL)
	}
	return nil
}
