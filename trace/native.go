package trace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/model"
)

const (
	callTracerName     = "callTracer"
	prestateTracerName = "prestateTracer"
)

// diffModeConfig turns the prestate tracer into diff mode: the post map
// then holds exactly the accounts and slots the transaction wrote.
var diffModeConfig = json.RawMessage(`{"diffMode":true}`)

// callObject is the eth_call-style transaction for debug_traceCall.
type callObject struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to,omitempty"`
	Gas      hexutil.Uint64  `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Input    hexutil.Bytes   `json:"input,omitempty"`
}

// traceConfig configures debug_traceTransaction.
type traceConfig struct {
	Tracer       string          `json:"tracer,omitempty"`
	TracerConfig json.RawMessage `json:"tracerConfig,omitempty"`
}

// traceCallConfig configures debug_traceCall: a tracer plus the state
// and block environment the call runs under.
type traceCallConfig struct {
	Tracer         string          `json:"tracer,omitempty"`
	TracerConfig   json.RawMessage `json:"tracerConfig,omitempty"`
	StateOverrides Overlay         `json:"stateOverrides,omitempty"`
	BlockOverrides *blockOverrides `json:"blockOverrides,omitempty"`
}

// blockOverrides pins the execution environment to the traced block
// while the state itself comes from the parent.
type blockOverrides struct {
	Number   *hexutil.Big    `json:"number,omitempty"`
	Time     *hexutil.Uint64 `json:"time,omitempty"`
	Coinbase *common.Address `json:"coinbase,omitempty"`
	BaseFee  *hexutil.Big    `json:"baseFee,omitempty"`
}

// callFrame is the call tracer's response node.
type callFrame struct {
	Type    string          `json:"type"`
	From    common.Address  `json:"from"`
	To      *common.Address `json:"to"`
	Value   *hexutil.Big    `json:"value"`
	Gas     hexutil.Uint64  `json:"gas"`
	GasUsed hexutil.Uint64  `json:"gasUsed"`
	Input   hexutil.Bytes   `json:"input"`
	Error   string          `json:"error,omitempty"`
	Calls   []callFrame     `json:"calls,omitempty"`
}

// toCall converts the wire frame into the domain call tree.
func (f *callFrame) toCall() model.Call {
	call := model.Call{
		From:    f.From,
		Input:   f.Input,
		Success: f.Error == "",
	}
	if f.To != nil {
		call.To = *f.To
	}
	if f.Value != nil {
		call.Value, _ = uint256.FromBig(f.Value.ToInt())
	}
	if len(f.Calls) > 0 {
		call.Subcalls = make([]model.Call, 0, len(f.Calls))
		for i := range f.Calls {
			call.Subcalls = append(call.Subcalls, f.Calls[i].toCall())
		}
	}
	return call
}

// accountFrame is one account in a prestate tracer response.
type accountFrame struct {
	Balance *hexutil.Big                `json:"balance,omitempty"`
	Nonce   *uint64                     `json:"nonce,omitempty"`
	Code    hexutil.Bytes               `json:"code,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
}

// diffFrame is the prestate tracer's diff-mode response.
type diffFrame struct {
	Pre  map[common.Address]accountFrame `json:"pre"`
	Post map[common.Address]accountFrame `json:"post"`
}

// touched lists the written accounts with their written storage slots.
func (d *diffFrame) touched() map[common.Address][]common.Hash {
	if len(d.Post) == 0 {
		return nil
	}
	out := make(map[common.Address][]common.Hash, len(d.Post))
	for addr, acct := range d.Post {
		slots := make([]common.Hash, 0, len(acct.Storage))
		for slot := range acct.Storage {
			slots = append(slots, slot)
		}
		out[addr] = slots
	}
	return out
}

// overlay converts the post-state diff into the override form the next
// replay step executes against.
func (d *diffFrame) overlay() Overlay {
	if len(d.Post) == 0 {
		return nil
	}
	out := make(Overlay, len(d.Post))
	for addr, acct := range d.Post {
		delta := &AccountDelta{Balance: acct.Balance, Code: acct.Code}
		if acct.Nonce != nil {
			nonce := hexutil.Uint64(*acct.Nonce)
			delta.Nonce = &nonce
		}
		if len(acct.Storage) > 0 {
			delta.StateDiff = make(map[common.Hash]common.Hash, len(acct.Storage))
			for slot, value := range acct.Storage {
				delta.StateDiff[slot] = value
			}
		}
		out[addr] = delta
	}
	return out
}

// NativeTracer answers through the endpoint's built-in tracers: the
// call tracer for the call tree and the prestate tracer for touched
// state. It needs nothing but the transaction hash, so no replay and no
// checkpoint are involved.
type NativeTracer struct {
	chainID uint64
	client  rawCaller
	logger  zerolog.Logger
}

// NewNativeTracer builds the debug_traceTransaction-backed Tracer.
func NewNativeTracer(chainID uint64, client rawCaller, logger zerolog.Logger) *NativeTracer {
	return &NativeTracer{
		chainID: chainID,
		client:  client,
		logger:  logger.With().Str("component", "native_tracer").Logger(),
	}
}

// Trace implements Tracer.
func (t *NativeTracer) Trace(ctx context.Context, block *model.Block, position uint32) (*model.TraceResult, error) {
	tx := block.Tx(position)
	if tx == nil {
		return nil, scoperr.NewTraceError(t.chainID,
			fmt.Sprintf("block %d has no position %d", block.Number, position), nil)
	}

	var frame callFrame
	err := t.client.RawCall(ctx, &frame, "debug_traceTransaction", tx.Hash,
		traceConfig{Tracer: callTracerName})
	if err != nil {
		return nil, scoperr.NewTraceError(t.chainID,
			fmt.Sprintf("call trace of %s failed", tx.Hash), err)
	}

	var diff diffFrame
	err = t.client.RawCall(ctx, &diff, "debug_traceTransaction", tx.Hash,
		traceConfig{Tracer: prestateTracerName, TracerConfig: diffModeConfig})
	if err != nil {
		return nil, scoperr.NewTraceError(t.chainID,
			fmt.Sprintf("prestate trace of %s failed", tx.Hash), err)
	}

	root := frame.toCall()
	return &model.TraceResult{
		Root:             root,
		Touched:          diff.touched(),
		CoinbaseTransfer: findCoinbaseTransfer(block.Coinbase, &root),
		GasUsed:          uint64(frame.GasUsed),
		Success:          frame.Error == "",
	}, nil
}

// structLogFrame is the default struct logger's response, reduced to the
// per-step fields we surface.
type structLogFrame struct {
	Gas        uint64      `json:"gas"`
	Failed     bool        `json:"failed"`
	StructLogs []structLog `json:"structLogs"`
}

type structLog struct {
	PC      uint64 `json:"pc"`
	Op      string `json:"op"`
	Gas     uint64 `json:"gas"`
	GasCost uint64 `json:"gasCost"`
}

// FetchOpcodes retrieves the opcode-level execution log of a mined
// transaction with the node's default struct logger. It is an on-demand
// enrichment for single-transaction inspection; block scanning never
// needs it.
func FetchOpcodes(ctx context.Context, client rawCaller, chainID uint64, txHash common.Hash) ([]string, error) {
	var frame structLogFrame
	err := client.RawCall(ctx, &frame, "debug_traceTransaction", txHash, traceConfig{})
	if err != nil {
		return nil, scoperr.NewTraceError(chainID,
			fmt.Sprintf("opcode trace of %s failed", txHash), err)
	}

	opcodes := make([]string, 0, len(frame.StructLogs))
	for _, step := range frame.StructLogs {
		opcodes = append(opcodes, fmt.Sprintf("%-6d %-16s gas=%d cost=%d", step.PC, step.Op, step.Gas, step.GasCost))
	}
	return opcodes, nil
}
