// Package model holds the chain-facing data types shared by the filter,
// trace and query layers. Blocks and transactions are read-only snapshots
// produced by the data source; trace results are produced on demand.
package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), the
// topic0 of the canonical ERC20/ERC721 Transfer event.
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Block is one block's worth of hydrated transaction data. The slice
// index of Txs is the authoritative position index.
type Block struct {
	Number   uint64
	Hash     common.Hash
	Time     uint64
	BaseFee  *uint256.Int // nil on pre-1559 chains
	Coinbase common.Address
	Txs      []*Transaction
}

// Tx returns the transaction at the given position, or nil when the
// position is out of range.
func (b *Block) Tx(position uint32) *Transaction {
	if int(position) >= len(b.Txs) {
		return nil
	}
	return b.Txs[position]
}

// Transaction combines the on-chain transaction body with its receipt
// fields. Success and GasUsed come from the receipt; EffectiveGasPrice is
// the receipt's price after base-fee application.
type Transaction struct {
	Hash              common.Hash
	From              common.Address
	To                *common.Address // nil means contract creation
	Value             *uint256.Int
	Input             []byte
	GasLimit          uint64
	GasPrice          *uint256.Int
	GasTipCap         *uint256.Int
	GasFeeCap         *uint256.Int
	EffectiveGasPrice *uint256.Int
	GasUsed           uint64
	Success           bool
	Position          uint32
	Logs              []Log
}

// Selector returns the 4-byte method selector of the call data, or nil
// for plain transfers and contract creations with short init code.
func (tx *Transaction) Selector() []byte {
	if len(tx.Input) < 4 {
		return nil
	}
	return tx.Input[:4]
}

// Cost is the nominal execution cost: effective gas price times gas used.
func (tx *Transaction) Cost() *uint256.Int {
	if tx.EffectiveGasPrice == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Mul(tx.EffectiveGasPrice, uint256.NewInt(tx.GasUsed))
}

// Log is one emitted event record.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Topic0 returns the event signature topic, or the zero hash for
// anonymous events.
func (l *Log) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

// ERC20Transfer is a decoded Transfer event.
type ERC20Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

// AsERC20Transfer decodes the log as an ERC20 Transfer when it has the
// canonical shape (topic0 + two indexed addresses + 32-byte amount).
func (l *Log) AsERC20Transfer() (*ERC20Transfer, bool) {
	if len(l.Topics) != 3 || l.Topics[0] != TransferTopic || len(l.Data) < 32 {
		return nil, false
	}
	amount := new(uint256.Int).SetBytes(l.Data[:32])
	return &ERC20Transfer{
		Token:  l.Address,
		From:   common.BytesToAddress(l.Topics[1].Bytes()),
		To:     common.BytesToAddress(l.Topics[2].Bytes()),
		Amount: amount,
	}, true
}

// Call is one node of the message-call tree produced by tracing.
type Call struct {
	From     common.Address
	To       common.Address
	Value    *uint256.Int
	Input    []byte
	Success  bool
	Subcalls []Call
}

// Selector returns the call's 4-byte selector, or nil.
func (c *Call) Selector() []byte {
	if len(c.Input) < 4 {
		return nil
	}
	return c.Input[:4]
}

// TraceResult is the outcome of executing one transaction, either via a
// node's native tracer or via local replay. Absent until computed.
type TraceResult struct {
	Root    Call
	Touched map[common.Address][]common.Hash
	// CoinbaseTransfer is the value of the first call paying the block's
	// coinbase directly, nil when none exists.
	CoinbaseTransfer *uint256.Int
	GasUsed          uint64
	Success          bool
	Opcodes          []string
}

// Flat returns the call tree flattened in preorder, root first.
func (t *TraceResult) Flat() []*Call {
	var out []*Call
	var walk func(c *Call)
	walk = func(c *Call) {
		out = append(out, c)
		for i := range c.Subcalls {
			walk(&c.Subcalls[i])
		}
	}
	walk(&t.Root)
	return out
}

// Touches reports whether the traced execution wrote storage of addr.
func (t *TraceResult) Touches(addr common.Address) bool {
	_, ok := t.Touched[addr]
	return ok
}

// RealCost is the nominal cost plus any coinbase bribe paid during
// execution.
func (t *TraceResult) RealCost(tx *Transaction) *uint256.Int {
	cost := tx.Cost()
	if t.CoinbaseTransfer != nil {
		cost = new(uint256.Int).Add(cost, t.CoinbaseTransfer)
	}
	return cost
}

// RealGasPrice is the real cost divided by gas used: the price the sender
// effectively paid per unit of gas once bribes are counted.
func (t *TraceResult) RealGasPrice(tx *Transaction) *uint256.Int {
	if tx.GasUsed == 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Div(t.RealCost(tx), uint256.NewInt(tx.GasUsed))
}
