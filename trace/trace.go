// Package trace produces TraceResults for transactions, either through a
// node's native debug tracers or by sequential local replay against
// lazily fetched parent state. Both backends satisfy the same contract,
// so filter evaluation never knows which one ran.
package trace

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/mevscope/mevscope/model"
)

// Tracer produces the trace of the transaction at one block position.
type Tracer interface {
	Trace(ctx context.Context, block *model.Block, position uint32) (*model.TraceResult, error)
}

// rawCaller issues raw JSON-RPC requests; satisfied by the EVM client,
// which routes them through the endpoint pool.
type rawCaller interface {
	RawCall(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Mode selects the tracing backend.
type Mode string

const (
	// ModeRPC uses the endpoint's debug_traceTransaction tracers.
	ModeRPC Mode = "rpc"

	// ModeReplay reconstructs pre-state locally by sequential replay.
	ModeReplay Mode = "replay"

	// ModeAuto probes for native tracing and falls back to replay.
	ModeAuto Mode = "auto"

	// ModeOff disables tracing; trace-dependent filters are rejected.
	ModeOff Mode = ""
)

// ParseMode validates a --trace flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRPC, ModeReplay, ModeAuto, ModeOff:
		return Mode(s), nil
	default:
		return ModeOff, errors.Errorf("invalid tracing mode %q (want rpc, replay or auto)", s)
	}
}

// findCoinbaseTransfer returns the value of the first call in preorder
// paying the block's coinbase directly, or nil when no call targets it.
func findCoinbaseTransfer(coinbase common.Address, root *model.Call) *uint256.Int {
	var walk func(c *model.Call) *uint256.Int
	walk = func(c *model.Call) *uint256.Int {
		if c.To == coinbase {
			if c.Value != nil {
				return c.Value
			}
			return uint256.NewInt(0)
		}
		for i := range c.Subcalls {
			if v := walk(&c.Subcalls[i]); v != nil {
				return v
			}
		}
		return nil
	}
	return walk(root)
}
