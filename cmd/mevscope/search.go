package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mevscope/mevscope/filter"
	"github.com/mevscope/mevscope/logger"
	"github.com/mevscope/mevscope/query"
	"github.com/mevscope/mevscope/trace"
)

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <blocks>",
		Short: "Scan a block range for matching transactions",
		Long: `Scan a block range for transactions matching the filter flags.

The blocks argument is "latest" (the head block), a single number, an
inclusive "from:to" span, or "N:" / "N:latest" for the last N blocks.`,
		Example: `  mevscope search 10:latest --value ge1ether
  mevscope search 19000000:19000100 --event "/(?i)swap/" --limit 20
  mevscope search latest --method "transfer(address,uint256)"
  mevscope search 50: --real-tx-cost ge0.02ether --trace auto`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0])
		},
	}

	addFilterFlags(cmd)
	flags := cmd.Flags()
	flags.String("trace", "", "trace backend: rpc, replay or auto")
	flags.Bool("reverse", false, "print matches newest block first")
	flags.Int("limit", 0, "stop after this many matches")
	flags.Int("trace-budget", 0, "cap trace executions for this run")
	flags.String("format", formatText, "output format: text or json")

	return cmd
}

func runSearch(cmd *cobra.Command, blocksArg string) error {
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
	reverse, _ := flags.GetBool("reverse")
	limit, _ := flags.GetInt("limit")
	budget, _ := flags.GetInt("trace-budget")
	if budget == 0 {
		budget = cfg.TraceBudget
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

	spec, err := filter.Parse(filterOptions(cmd), mode != trace.ModeOff, false)
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	head, err := rt.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	blocks, err := query.ParseBlockRange(blocksArg, head)
	if err != nil {
		return err
	}

	tracer, err := rt.buildTracer(ctx, mode)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var sink query.Sink
	collector := query.NewCollectSink()
	if reverse {
		sink = collector
	} else {
		sink = query.FuncSink(func(m query.Match) {
			printMatch(out, format, describeMatch(ctx, m, rt))
		})
	}

	orch := query.New(query.Params{
		ChainID:  cfg.ChainID,
		Source:   rt.blockSource(),
		Tracer:   tracer,
		Spec:     spec,
		Resolver: rt.meta,
		Sink:     sink,
		Options: query.Options{
			TraceBudget: budget,
			Limit:       limit,
			Prefetch:    cfg.PrefetchWindow,
		},
	}, log)

	if err := orch.RunRange(ctx, blocks); err != nil {
		return err
	}

	if reverse {
		for _, m := range collector.Drain(true) {
			printMatch(out, format, describeMatch(ctx, m, rt))
		}
	}
	return nil
}
