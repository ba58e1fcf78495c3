package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/logger"
	"github.com/mevscope/mevscope/query"
	"github.com/mevscope/mevscope/trace"
)

func txCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx <hash>",
		Short: "Inspect a single mined transaction",
		Long: `Inspect a mined transaction: sender and receiver names, method,
value, cost and decoded event logs. With --trace the call tree is
executed as well, revealing coinbase bribes and the real cost.`,
		Example: `  mevscope tx 0x41b3cbec304c2d43c7d5b91ff03236e7006dbbc7ddfee259e74f9b6c19e4aa75
  mevscope tx 0x41b3...aa75 --trace replay
  mevscope tx 0x41b3...aa75 --opcodes --trace rpc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTx(cmd, args[0])
		},
	}

	flags := cmd.Flags()
	flags.String("trace", "", "trace backend: rpc, replay or auto")
	flags.Bool("opcodes", false, "list executed opcodes (needs --trace rpc or auto)")
	flags.String("format", formatText, "output format: text or json")

	return cmd
}

func runTx(cmd *cobra.Command, hashArg string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raw, err := hexutil.Decode(hashArg)
	if err != nil || len(raw) != common.HashLength {
		return scoperr.NewParseError("tx", fmt.Sprintf("invalid transaction hash %q", hashArg))
	}
	hash := common.BytesToHash(raw)

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
	opcodesWanted, _ := flags.GetBool("opcodes")

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
	if opcodesWanted && mode != trace.ModeRPC && mode != trace.ModeAuto {
		return scoperr.NewParseError("opcodes", "'--opcodes' needs --trace rpc or --trace auto")
	}

	rt, err := openRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	receipt, err := rt.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if scoperr.Is(err, ethereum.NotFound) {
			return scoperr.NewNotFoundError(cfg.ChainID,
				fmt.Sprintf("transaction %s is not mined on chain %d", hashArg, cfg.ChainID))
		}
		return err
	}

	position := uint32(receipt.TransactionIndex)
	block, err := rt.blockSource().FetchBlock(ctx, receipt.BlockNumber.Uint64())
	if err != nil {
		return err
	}
	tx := block.Tx(position)
	if tx == nil {
		return scoperr.NewInternalError(cfg.ChainID,
			fmt.Sprintf("block %d has no transaction at position %d", block.Number, position), nil)
	}

	match := query.Match{Block: block, Tx: tx}
	if mode != trace.ModeOff {
		tracer, err := rt.buildTracer(ctx, mode)
		if err != nil {
			return err
		}
		result, err := tracer.Trace(ctx, block, position)
		if err != nil {
			if scoperr.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			log.Warn().Err(err).Str("tx", hashArg).Msg("trace unavailable")
			match.TraceUnavailable = true
		} else {
			match.Trace = result
		}
	}

	var opcodes []string
	if opcodesWanted {
		opcodes, err = trace.FetchOpcodes(ctx, rt.client, cfg.ChainID, hash)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Warn().Err(err).Str("tx", hashArg).Msg("opcode trace unavailable")
		}
	}

	printTx(cmd.OutOrStdout(), format, describeTx(ctx, match, rt, opcodes))
	return nil
}
