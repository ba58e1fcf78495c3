package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mevscope/mevscope/logger"
)

func chainInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain-info",
		Short: "Show directory metadata for the selected chain",
		Example: `  mevscope chain-info
  mevscope chain-info --chain-id 8453`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChainInfo(cmd)
		},
	}
}

func runChainInfo(cmd *cobra.Command) error {
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

	entry, err := registry.Entry(ctx, cfg.ChainID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "chain id:     %d\n", entry.ChainID)
	fmt.Fprintf(out, "name:         %s\n", entry.Name)
	fmt.Fprintf(out, "currency:     %s\n", entry.Currency)
	if entry.ExplorerURL != "" {
		fmt.Fprintf(out, "explorer:     %s\n", entry.ExplorerURL)
	}
	if entry.PriceOracle != "" {
		fmt.Fprintf(out, "price oracle: %s\n", entry.PriceOracle)
	}
	if !entry.RefreshedAt.IsZero() {
		fmt.Fprintf(out, "refreshed:    %s\n", entry.RefreshedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "rpc urls:     %d\n", len(entry.RPCURLs))
	for _, url := range entry.RPCURLs {
		fmt.Fprintf(out, "  %s\n", url)
	}
	return nil
}
