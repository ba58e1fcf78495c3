package model

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferTopicIsCanonical(t *testing.T) {
	assert.Equal(t,
		crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")),
		TransferTopic)
}

func TestBlockTxBounds(t *testing.T) {
	block := &Block{Txs: []*Transaction{{Position: 0}, {Position: 1}}}

	require.NotNil(t, block.Tx(1))
	assert.Equal(t, uint32(1), block.Tx(1).Position)
	assert.Nil(t, block.Tx(2))
}

func TestTransactionSelector(t *testing.T) {
	assert.Nil(t, (&Transaction{}).Selector())
	assert.Nil(t, (&Transaction{Input: []byte{0xa9, 0x05}}).Selector())

	tx := &Transaction{Input: []byte{0xa9, 0x05, 0x9c, 0xbb, 0x01, 0x02}}
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, tx.Selector())
}

func TestTransactionCost(t *testing.T) {
	tx := &Transaction{EffectiveGasPrice: uint256.NewInt(2_000_000_000), GasUsed: 21_000}
	assert.Equal(t, uint256.NewInt(42_000_000_000_000), tx.Cost())

	legacy := &Transaction{GasUsed: 21_000}
	assert.True(t, legacy.Cost().IsZero())
}

func TestLogTopic0(t *testing.T) {
	anonymous := &Log{}
	assert.Equal(t, common.Hash{}, anonymous.Topic0())

	log := &Log{Topics: []common.Hash{TransferTopic}}
	assert.Equal(t, TransferTopic, log.Topic0())
}

func TestAsERC20Transfer(t *testing.T) {
	token := common.HexToAddress("0x6982508145454ce325ddbe47a25d4ec3d2311933")
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	amount := uint256.NewInt(1_000_000)
	data := amount.Bytes32()

	log := &Log{
		Address: token,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data[:],
	}

	transfer, ok := log.AsERC20Transfer()
	require.True(t, ok)
	assert.Equal(t, token, transfer.Token)
	assert.Equal(t, from, transfer.From)
	assert.Equal(t, to, transfer.To)
	assert.Equal(t, 0, transfer.Amount.Cmp(amount))

	t.Run("wrong topic count", func(t *testing.T) {
		short := &Log{Address: token, Topics: []common.Hash{TransferTopic}, Data: data[:]}
		_, ok := short.AsERC20Transfer()
		assert.False(t, ok)
	})

	t.Run("wrong topic0", func(t *testing.T) {
		other := &Log{
			Address: token,
			Topics:  []common.Hash{{0x01}, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
			Data:    data[:],
		}
		_, ok := other.AsERC20Transfer()
		assert.False(t, ok)
	})

	t.Run("short data", func(t *testing.T) {
		truncated := &Log{
			Address: token,
			Topics:  []common.Hash{TransferTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
			Data:    []byte{0x01},
		}
		_, ok := truncated.AsERC20Transfer()
		assert.False(t, ok)
	})
}

func TestTraceResultFlatIsPreorder(t *testing.T) {
	trace := &TraceResult{Root: Call{
		Input: []byte{0x01},
		Subcalls: []Call{
			{Input: []byte{0x02}, Subcalls: []Call{{Input: []byte{0x03}}}},
			{Input: []byte{0x04}},
		},
	}}

	flat := trace.Flat()
	require.Len(t, flat, 4)
	assert.Equal(t, []byte{0x01}, flat[0].Input)
	assert.Equal(t, []byte{0x02}, flat[1].Input)
	assert.Equal(t, []byte{0x03}, flat[2].Input)
	assert.Equal(t, []byte{0x04}, flat[3].Input)
}

func TestTraceResultTouches(t *testing.T) {
	addr := common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	trace := &TraceResult{Touched: map[common.Address][]common.Hash{addr: nil}}

	assert.True(t, trace.Touches(addr))
	assert.False(t, trace.Touches(common.Address{}))
	assert.False(t, (&TraceResult{}).Touches(addr))
}

func TestTraceResultRealCost(t *testing.T) {
	tx := &Transaction{EffectiveGasPrice: uint256.NewInt(2_000_000_000), GasUsed: 21_000}
	nominal := tx.Cost()

	plain := &TraceResult{}
	assert.Equal(t, 0, plain.RealCost(tx).Cmp(nominal))

	bribed := &TraceResult{CoinbaseTransfer: uint256.NewInt(1_000_000_000_000)}
	want := new(uint256.Int).Add(nominal, uint256.NewInt(1_000_000_000_000))
	assert.Equal(t, 0, bribed.RealCost(tx).Cmp(want))

	perGas := new(uint256.Int).Div(want, uint256.NewInt(21_000))
	assert.Equal(t, 0, bribed.RealGasPrice(tx).Cmp(perGas))

	zeroGas := &Transaction{EffectiveGasPrice: uint256.NewInt(1)}
	assert.True(t, bribed.RealGasPrice(zeroGas).IsZero())
}
