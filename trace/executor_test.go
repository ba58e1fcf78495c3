package trace

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevscope/mevscope/model"
	"github.com/mevscope/mevscope/testutils"
)

func TestRPCExecutorWireFormat(t *testing.T) {
	rpc := &fakeRPC{handler: func(method string, args []interface{}) (json.RawMessage, error) {
		require.Equal(t, "debug_traceCall", method)
		switch tracerFor(args) {
		case callTracerName:
			return callTracerResponse(), nil
		case prestateTracerName:
			return prestateDiffResponse(), nil
		default:
			return nil, errors.New("unexpected tracer")
		}
	}}
	executor := NewRPCExecutor(rpc, testutils.NewTestLogger(t))

	view := NewStateView()
	view.Apply(Overlay{testutils.Carol: {Balance: bigDelta(777)}})

	tx := testutils.NewTx(0,
		testutils.WithValue(uint256.NewInt(123)),
		testutils.WithInput([]byte{0xa9, 0x05, 0x9c, 0xbb}))
	block := testutils.NewBlock(100, tx)

	outcome, err := executor.Execute(context.Background(), view, block, tx)
	require.NoError(t, err)

	require.Len(t, rpc.calls, 2)
	for _, call := range rpc.calls {
		obj, ok := call.args[0].(callObject)
		require.True(t, ok)
		assert.Equal(t, tx.From, obj.From)
		require.NotNil(t, obj.To)
		assert.Equal(t, *tx.To, *obj.To)
		assert.Equal(t, hexutil.Uint64(tx.GasLimit), obj.Gas)
		assert.Equal(t, int64(123), obj.Value.ToInt().Int64())
		assert.Equal(t, tx.EffectiveGasPrice.ToBig(), obj.GasPrice.ToInt(), "price pinned to what the sender paid")

		assert.Equal(t, "0x63", call.args[1], "state comes from the parent block")

		cfg, ok := call.args[2].(traceCallConfig)
		require.True(t, ok)
		require.NotNil(t, cfg.StateOverrides[testutils.Carol], "accumulated overlay ships with every call")
		require.NotNil(t, cfg.BlockOverrides)
		assert.Equal(t, int64(100), cfg.BlockOverrides.Number.ToInt().Int64())
		assert.Equal(t, hexutil.Uint64(block.Time), *cfg.BlockOverrides.Time)
		assert.Equal(t, block.Coinbase, *cfg.BlockOverrides.Coinbase)
		assert.Equal(t, block.BaseFee.ToBig(), cfg.BlockOverrides.BaseFee.ToInt())
	}

	assert.True(t, outcome.Success)
	assert.Equal(t, uint64(0x5208), outcome.GasUsed)
	assert.Equal(t, testutils.Router, outcome.Root.To)
	assert.Contains(t, outcome.Touched, testutils.Token)
	require.Contains(t, outcome.Diff, testutils.Token)
	assert.Len(t, outcome.Diff[testutils.Token].StateDiff, 1)

	assert.Equal(t, 1, view.Len(), "the executor never commits into the view")
}

func TestRPCExecutorPropagatesFailure(t *testing.T) {
	rpc := &fakeRPC{handler: func(string, []interface{}) (json.RawMessage, error) {
		return nil, errors.New("rate limited")
	}}
	executor := NewRPCExecutor(rpc, testutils.NewTestLogger(t))

	tx := testutils.NewTx(0)
	block := testutils.NewBlock(100, tx)

	_, err := executor.Execute(context.Background(), NewStateView(), block, tx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestParentTag(t *testing.T) {
	assert.Equal(t, "0x63", parentTag(testutils.NewBlock(100)))
	assert.Equal(t, "0x0", parentTag(&model.Block{Number: 0}))
}

func TestCallObjectFallsBackToGasPrice(t *testing.T) {
	tx := testutils.NewTx(0, testutils.WithEffectiveGasPrice(nil))
	obj := callObjectFor(tx)
	require.NotNil(t, obj.GasPrice)
	assert.Equal(t, tx.GasPrice.ToBig(), obj.GasPrice.ToInt())
}

func TestBlockOverridesWithoutBaseFee(t *testing.T) {
	block := &model.Block{Number: 5, Time: 1000, Coinbase: testutils.Coinbase}
	env := blockOverridesFor(block)
	assert.Nil(t, env.BaseFee)
	assert.Equal(t, int64(5), env.Number.ToInt().Int64())
}
