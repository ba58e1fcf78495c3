package trace

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mevscope/mevscope/model"
)

// Outcome is one executed transaction: its call tree, gas, the accounts
// it touched and the state delta it commits.
type Outcome struct {
	Success bool
	GasUsed uint64
	Root    model.Call
	Touched map[common.Address][]common.Hash
	Diff    Overlay
}

// Executor runs one transaction against a state view and reports what
// it did. Implementations do not mutate the view; the replayer decides
// what to commit.
type Executor interface {
	Execute(ctx context.Context, view *StateView, block *model.Block, tx *model.Transaction) (*Outcome, error)
}

// RPCExecutor executes through debug_traceCall at the block's parent,
// shipping the view's overlay as state overrides and the block header
// fields as block overrides. The node performs the lazy state reads.
type RPCExecutor struct {
	client rawCaller
	logger zerolog.Logger
}

// NewRPCExecutor builds the debug_traceCall-backed executor.
func NewRPCExecutor(client rawCaller, logger zerolog.Logger) *RPCExecutor {
	return &RPCExecutor{
		client: client,
		logger: logger.With().Str("component", "replay_executor").Logger(),
	}
}

// Execute implements Executor with two traced calls: the call tracer
// for the tree and the prestate diff for the write set.
func (e *RPCExecutor) Execute(ctx context.Context, view *StateView, block *model.Block, tx *model.Transaction) (*Outcome, error) {
	call := callObjectFor(tx)
	parent := parentTag(block)
	env := blockOverridesFor(block)
	overrides := view.Overrides()

	var frame callFrame
	err := e.client.RawCall(ctx, &frame, "debug_traceCall", call, parent, traceCallConfig{
		Tracer:         callTracerName,
		StateOverrides: overrides,
		BlockOverrides: env,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "call trace of %s", tx.Hash)
	}

	var diff diffFrame
	err = e.client.RawCall(ctx, &diff, "debug_traceCall", call, parent, traceCallConfig{
		Tracer:         prestateTracerName,
		TracerConfig:   diffModeConfig,
		StateOverrides: overrides,
		BlockOverrides: env,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "prestate trace of %s", tx.Hash)
	}

	return &Outcome{
		Success: frame.Error == "",
		GasUsed: uint64(frame.GasUsed),
		Root:    frame.toCall(),
		Touched: diff.touched(),
		Diff:    diff.overlay(),
	}, nil
}

// parentTag is the hex number of the block whose end state the replay
// starts from.
func parentTag(block *model.Block) string {
	if block.Number == 0 {
		return hexutil.EncodeUint64(0)
	}
	return hexutil.EncodeUint64(block.Number - 1)
}

// callObjectFor rebuilds the wire call from the stored transaction. The
// effective gas price is pinned so balance accounting matches what the
// sender actually paid.
func callObjectFor(tx *model.Transaction) callObject {
	call := callObject{
		From:  tx.From,
		To:    tx.To,
		Gas:   hexutil.Uint64(tx.GasLimit),
		Input: tx.Input,
	}
	if tx.Value != nil {
		call.Value = (*hexutil.Big)(tx.Value.ToBig())
	}
	if tx.EffectiveGasPrice != nil {
		call.GasPrice = (*hexutil.Big)(tx.EffectiveGasPrice.ToBig())
	} else if tx.GasPrice != nil {
		call.GasPrice = (*hexutil.Big)(tx.GasPrice.ToBig())
	}
	return call
}

func blockOverridesFor(block *model.Block) *blockOverrides {
	number := new(big.Int).SetUint64(block.Number)
	time := hexutil.Uint64(block.Time)
	coinbase := block.Coinbase

	env := &blockOverrides{
		Number:   (*hexutil.Big)(number),
		Time:     &time,
		Coinbase: &coinbase,
	}
	if block.BaseFee != nil {
		env.BaseFee = (*hexutil.Big)(block.BaseFee.ToBig())
	}
	return env
}
