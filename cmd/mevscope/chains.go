package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mevscope/mevscope/logger"
)

func chainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains known to the directory",
		Long: `List every chain the directory knows about, with its native
currency and how many public RPC endpoints it advertises. The list is
cached locally and refreshed when stale.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChains(cmd)
		},
	}
}

func runChains(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

	registry, dictDB, err := openRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = dictDB.Close() }()

	entries, err := registry.Chains(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-32s %-10s %s\n", "CHAIN ID", "NAME", "CURRENCY", "RPC URLS")
	for _, entry := range entries {
		fmt.Fprintf(out, "%-10d %-32s %-10s %d\n",
			entry.ChainID, entry.Name, entry.Currency, len(entry.RPCURLs))
	}
	return nil
}
