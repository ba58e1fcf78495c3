package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mevscope/mevscope/chains/evm"
	"github.com/mevscope/mevscope/filter"
	"github.com/mevscope/mevscope/logger"
	"github.com/mevscope/mevscope/query"
	"github.com/mevscope/mevscope/telemetry"
	"github.com/mevscope/mevscope/trace"
)

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow new blocks and print matching transactions",
		Long: `Follow the chain head and print matching transactions as blocks land.

When no --position is given, watching focuses on positions 0 to 4, where
priority transactions sit. Stop with Ctrl-C.`,
		Example: `  mevscope watch --value ge10ether
  mevscope watch --erc20-transfer "0x6982508145454ce325ddbe47a25d4ec3d2311933|ge1000000ether"
  mevscope watch --touching 0x7a250d5630b4cf539739df2c5dacb4c659f2488d --trace auto`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd)
		},
	}

	addFilterFlags(cmd)
	flags := cmd.Flags()
	flags.String("trace", "", "trace backend: rpc, replay or auto")
	flags.Int("limit", 0, "stop after this many matches")
	flags.Int("trace-budget", 0, "cap trace executions for this run")
	flags.String("format", formatText, "output format: text or json")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")

	return cmd
}

func runWatch(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

	flags := cmd.Flags()
	format, _ := flags.GetString("format")
	if err := validFormat(format); err != nil {
		return err
	}
	limit, _ := flags.GetInt("limit")
	budget, _ := flags.GetInt("trace-budget")
	if budget == 0 {
		budget = cfg.TraceBudget
	}
	if addr, _ := flags.GetString("metrics-addr"); addr != "" {
		cfg.MetricsAddr = addr
	}

	modeArg, _ := flags.GetString("trace")
	if modeArg == "" {
		modeArg = cfg.TraceMode
	}
	if modeArg == "off" {
		modeArg = ""
	}
	mode, err := trace.ParseMode(modeArg)
	if err != nil {
		return err
	}

	spec, err := filter.Parse(filterOptions(cmd), mode != trace.ModeOff, true)
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	var metrics *telemetry.Metrics
	if cfg.MetricsAddr != "" {
		metrics = telemetry.NewMetrics()
		rt.client.SetMetrics(metrics)
		metrics.Serve(ctx, cfg.MetricsAddr, log)
	}

	tracer, err := rt.buildTracer(ctx, mode)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sink := query.FuncSink(func(m query.Match) {
		printMatch(out, format, describeMatch(ctx, m, rt))
	})

	orch := query.New(query.Params{
		ChainID:  cfg.ChainID,
		Source:   rt.blockSource(),
		Tracer:   tracer,
		Spec:     spec,
		Resolver: rt.meta,
		Sink:     sink,
		Metrics:  metrics,
		Options: query.Options{
			TraceBudget: budget,
			Limit:       limit,
		},
	}, log)

	interval := time.Duration(cfg.WatchIntervalMS) * time.Millisecond
	watcher := evm.NewWatcher(rt.client, interval, log)
	return orch.RunWatch(ctx, watcher)
}
