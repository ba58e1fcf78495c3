package main

import (
	"github.com/spf13/cobra"

	"github.com/mevscope/mevscope/config"
	"github.com/mevscope/mevscope/filter"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mevscope",
		Short:        "Query and monitor EVM transactions on any chain",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("rpc-url", "", "RPC endpoint (skips automatic endpoint selection)")
	flags.Uint64("chain-id", 1, "EVM chain id")
	flags.String("data-dir", "", "cache directory (default ~/.mevscope)")
	flags.Int("log-level", 1, "log level from -1 (trace) to 5 (panic)")
	flags.String("log-format", "", "log format: console or json")
	flags.Bool("cache-only", false, "serve metadata from local caches only")

	InitRootCmd(rootCmd)

	return rootCmd
}

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(
		searchCmd(),
		watchCmd(),
		txCmd(),
		chainsCmd(),
		rpcURLsCmd(),
		chainInfoCmd(),
		updateDBCmd(),
		versionCmd(),
	)
}

// loadConfig layers the configuration: defaults, the config file in the
// data directory, MEVSCOPE_* environment variables, then any flag the
// operator set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	dataDir, err := flags.GetString("data-dir")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}

	if flags.Changed("rpc-url") {
		cfg.RPCURL, _ = flags.GetString("rpc-url")
	}
	if flags.Changed("chain-id") {
		cfg.ChainID, _ = flags.GetUint64("chain-id")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetInt("log-level")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("cache-only") {
		cfg.CacheOnly, _ = flags.GetBool("cache-only")
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}

	return cfg, nil
}

// addFilterFlags registers the clause flags shared by search and watch.
func addFilterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("from", "", "sender: 0x address or ENS name")
	flags.String("to", "", "recipient: 0x address or ENS name")
	flags.String("touching", "", "address whose storage must be touched (needs --trace)")
	flags.String("position", "", "position in block: N or N:M")
	flags.StringArray("event", nil, "event: /regex/, signature or name, with optional |address")
	flags.StringArray("not-event", nil, "exclude transactions emitting a matching event")
	flags.String("method", "", "method: /regex/, signature or 0x selector")
	flags.String("erc20-transfer", "", "token address with optional |amount threshold")
	flags.String("value", "", "value threshold, e.g. ge1ether")
	flags.String("gas-price", "", "effective gas price threshold, e.g. le2gwei")
	flags.String("tx-cost", "", "transaction cost threshold")
	flags.String("real-gas-price", "", "bribe-adjusted gas price threshold (needs --trace)")
	flags.String("real-tx-cost", "", "bribe-adjusted cost threshold (needs --trace)")
	flags.Bool("failed", false, "only failed transactions")
}

// filterOptions collects the clause flags into the parser input.
func filterOptions(cmd *cobra.Command) filter.Options {
	flags := cmd.Flags()

	opts := filter.Options{}
	opts.From, _ = flags.GetString("from")
	opts.To, _ = flags.GetString("to")
	opts.Touching, _ = flags.GetString("touching")
	opts.Position, _ = flags.GetString("position")
	opts.Events, _ = flags.GetStringArray("event")
	opts.NotEvents, _ = flags.GetStringArray("not-event")
	opts.Method, _ = flags.GetString("method")
	opts.ERC20Transfer, _ = flags.GetString("erc20-transfer")
	opts.Value, _ = flags.GetString("value")
	opts.GasPrice, _ = flags.GetString("gas-price")
	opts.TxCost, _ = flags.GetString("tx-cost")
	opts.RealGasPrice, _ = flags.GetString("real-gas-price")
	opts.RealTxCost, _ = flags.GetString("real-tx-cost")
	opts.Failed, _ = flags.GetBool("failed")
	return opts
}
