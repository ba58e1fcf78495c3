// Package testutils provides shared fixtures: canned addresses, block and
// transaction builders, an in-memory database and a canned metadata
// resolver.
package testutils

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mevscope/mevscope/db"
	"github.com/mevscope/mevscope/model"
)

var (
	Alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	Bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	Carol    = common.HexToAddress("0x00000000000000000000000000000000000ca401")
	Token    = common.HexToAddress("0x6982508145454ce325ddbe47a25d4ec3d2311933")
	Router   = common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	Coinbase = common.HexToAddress("0x0000000000000000000000000000000000c01bbe")
)

// NewTestLogger returns a zerolog logger wired to the test's output.
func NewTestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}

// OpenTestDB opens a migrated in-memory database and closes it with the test.
func OpenTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// TxOpt mutates a transaction under construction.
type TxOpt func(*model.Transaction)

// NewTx builds a successful 21k-gas transaction at the given position.
// Hash is derived from the position so fixtures stay distinct.
func NewTx(position uint32, opts ...TxOpt) *model.Transaction {
	to := Bob
	tx := &model.Transaction{
		Hash:              common.BytesToHash([]byte{0xfe, byte(position + 1)}),
		From:              Alice,
		To:                &to,
		Value:             uint256.NewInt(0),
		GasLimit:          100_000,
		GasPrice:          uint256.NewInt(2_000_000_000),
		EffectiveGasPrice: uint256.NewInt(2_000_000_000),
		GasUsed:           21_000,
		Success:           true,
		Position:          position,
	}
	for _, opt := range opts {
		opt(tx)
	}
	return tx
}

func WithFrom(addr common.Address) TxOpt {
	return func(tx *model.Transaction) { tx.From = addr }
}

func WithTo(addr common.Address) TxOpt {
	return func(tx *model.Transaction) { tx.To = &addr }
}

func WithContractCreation() TxOpt {
	return func(tx *model.Transaction) { tx.To = nil }
}

func WithValue(wei *uint256.Int) TxOpt {
	return func(tx *model.Transaction) { tx.Value = wei }
}

func WithInput(input []byte) TxOpt {
	return func(tx *model.Transaction) { tx.Input = input }
}

func WithGasUsed(gas uint64) TxOpt {
	return func(tx *model.Transaction) { tx.GasUsed = gas }
}

func WithEffectiveGasPrice(wei *uint256.Int) TxOpt {
	return func(tx *model.Transaction) { tx.EffectiveGasPrice = wei }
}

func WithFailed() TxOpt {
	return func(tx *model.Transaction) { tx.Success = false }
}

func WithLogs(logs ...model.Log) TxOpt {
	return func(tx *model.Transaction) { tx.Logs = append(tx.Logs, logs...) }
}

// NewBlock assembles a block and stamps each transaction's position from
// its slice index.
func NewBlock(number uint64, txs ...*model.Transaction) *model.Block {
	for i, tx := range txs {
		tx.Position = uint32(i)
	}
	return &model.Block{
		Number:   number,
		Hash:     common.BytesToHash([]byte{0xb1, byte(number)}),
		Time:     1_700_000_000 + number*12,
		BaseFee:  uint256.NewInt(1_000_000_000),
		Coinbase: Coinbase,
		Txs:      txs,
	}
}

// TransferLog builds a canonical ERC20 Transfer log.
func TransferLog(token, from, to common.Address, amount *uint256.Int) model.Log {
	data := amount.Bytes32()
	return model.Log{
		Address: token,
		Topics: []common.Hash{
			model.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data[:],
	}
}

// EventLog builds a minimal log with the given topic0.
func EventLog(emitter common.Address, topic0 common.Hash) model.Log {
	return model.Log{Address: emitter, Topics: []common.Hash{topic0}}
}

// FakeResolver serves canned dictionary text and reverse names and counts
// lookups.
type FakeResolver struct {
	Events  map[common.Hash]string
	Methods map[string]string // hex selector -> text
	Names   map[common.Address]string

	EventLookups  int
	MethodLookups int
	NameLookups   int
}

func NewFakeResolver() *FakeResolver {
	return &FakeResolver{
		Events:  make(map[common.Hash]string),
		Methods: make(map[string]string),
		Names:   make(map[common.Address]string),
	}
}

func (r *FakeResolver) EventText(_ context.Context, topic0 common.Hash) (string, bool) {
	r.EventLookups++
	text, ok := r.Events[topic0]
	return text, ok
}

func (r *FakeResolver) MethodText(_ context.Context, selector []byte) (string, bool) {
	r.MethodLookups++
	text, ok := r.Methods[strings.ToLower(common.Bytes2Hex(selector))]
	return text, ok
}

func (r *FakeResolver) ReverseName(_ context.Context, addr common.Address) (string, bool) {
	r.NameLookups++
	name, ok := r.Names[addr]
	return name, ok
}
