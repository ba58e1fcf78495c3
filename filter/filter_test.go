package filter

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scoperr "github.com/mevscope/mevscope/errors"
)

func TestParseRejectsTraceClausesWithoutTracing(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		flag string
	}{
		{name: "touching", opts: Options{Touching: pepe}, flag: "--touching"},
		{name: "real tx cost", opts: Options{RealTxCost: "ge0.02ether"}, flag: "--real-tx-cost"},
		{name: "real gas price", opts: Options{RealGasPrice: "ge100gwei"}, flag: "--real-gas-price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.opts, false, false)
			require.Error(t, err)
			assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeParse))
			assert.Contains(t, err.Error(), tt.flag)
			assert.Contains(t, err.Error(), "--trace")

			_, err = Parse(tt.opts, true, false)
			assert.NoError(t, err)
		})
	}
}

func TestParseWatchModePositionDefault(t *testing.T) {
	spec, err := Parse(Options{}, false, true)
	require.NoError(t, err)
	require.NotNil(t, spec.Position)
	assert.Equal(t, uint32(0), spec.Position.From)
	assert.Equal(t, uint32(4), spec.Position.To)

	spec, err = Parse(Options{Position: "7:9"}, false, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), spec.Position.From)
	assert.Equal(t, uint32(9), spec.Position.To)

	spec, err = Parse(Options{}, false, false)
	require.NoError(t, err)
	assert.Nil(t, spec.Position)
}

func TestParseNeedsTrace(t *testing.T) {
	spec, err := Parse(Options{Method: "0xa9059cbb"}, true, false)
	require.NoError(t, err)
	assert.True(t, spec.NeedsTrace(), "with tracing the method clause extends to subcalls")

	spec, err = Parse(Options{Method: "0xa9059cbb"}, false, false)
	require.NoError(t, err)
	assert.False(t, spec.NeedsTrace(), "without tracing the method clause is root-only")

	spec, err = Parse(Options{Touching: pepe}, true, false)
	require.NoError(t, err)
	assert.True(t, spec.NeedsTrace())

	spec, err = Parse(Options{Value: "ge1ether", Failed: true}, true, false)
	require.NoError(t, err)
	assert.False(t, spec.NeedsTrace())
}

func TestParseNeedsENS(t *testing.T) {
	spec, err := Parse(Options{From: "vitalik.eth"}, false, false)
	require.NoError(t, err)
	assert.True(t, spec.NeedsENS())

	spec, err = Parse(Options{From: pepe, To: pepe}, false, false)
	require.NoError(t, err)
	assert.False(t, spec.NeedsENS())
}

func TestParseCollectsEveryClause(t *testing.T) {
	spec, err := Parse(Options{
		From:          "vitalik.eth",
		To:            pepe,
		Touching:      pepe,
		Position:      "0:4",
		Events:        []string{"/(?i)swap/", pepe},
		NotEvents:     []string{"Sync(uint112,uint112)"},
		Method:        "0xa9059cbb",
		ERC20Transfer: pepe + "|ge1000ether",
		Value:         "ge1ether",
		GasPrice:      "le2gwei",
		TxCost:        "le0.5ether",
		RealGasPrice:  "ge100gwei",
		RealTxCost:    "ge0.02ether",
		Failed:        true,
	}, true, false)
	require.NoError(t, err)

	assert.Equal(t, "vitalik.eth", spec.From.ENSName)
	assert.Equal(t, common.HexToAddress(pepe), *spec.To.Address)
	assert.Equal(t, common.HexToAddress(pepe), *spec.Touching)
	assert.Equal(t, uint32(4), spec.Position.To)
	assert.Len(t, spec.Events, 2)
	assert.Len(t, spec.NotEvents, 1)
	assert.NotNil(t, spec.Method)
	assert.NotNil(t, spec.ERC20)
	assert.NotNil(t, spec.Value)
	assert.NotNil(t, spec.GasPrice)
	assert.NotNil(t, spec.TxCost)
	assert.NotNil(t, spec.RealGasPrice)
	assert.NotNil(t, spec.RealTxCost)
	assert.True(t, spec.FailedOnly)
	assert.True(t, spec.NeedsTrace())
}

func TestParseInvalidInputsSurfaceTheClause(t *testing.T) {
	_, err := Parse(Options{Touching: "not-an-address"}, true, false)
	require.Error(t, err)
	assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeParse))

	_, err = Parse(Options{Events: []string{"/(/"}}, false, false)
	assert.Error(t, err)

	_, err = Parse(Options{Value: "gt100"}, false, false)
	assert.Error(t, err)

	_, err = Parse(Options{Position: "9:2"}, false, false)
	assert.Error(t, err)
}

func TestMaxPosition(t *testing.T) {
	spec, err := Parse(Options{Position: "3:17"}, false, false)
	require.NoError(t, err)
	max, bounded := spec.MaxPosition()
	assert.True(t, bounded)
	assert.Equal(t, uint32(17), max)

	spec, err = Parse(Options{}, false, false)
	require.NoError(t, err)
	_, bounded = spec.MaxPosition()
	assert.False(t, bounded)

	assert.False(t, spec.PositionPrunes(5), "no range means nothing is pruned")
}

func TestPositionPrunes(t *testing.T) {
	spec, err := Parse(Options{Position: "2:4"}, false, false)
	require.NoError(t, err)

	assert.True(t, spec.PositionPrunes(0))
	assert.False(t, spec.PositionPrunes(2))
	assert.False(t, spec.PositionPrunes(4))
	assert.True(t, spec.PositionPrunes(5))
}
