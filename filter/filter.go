// Package filter parses and evaluates compound transaction predicates.
// Parsing turns operator flags into a FilterSpec; evaluation runs in two
// phases so that clauses needing a trace never force one for
// transactions that already failed a cheaper clause.
package filter

import (
	"github.com/ethereum/go-ethereum/common"

	scoperr "github.com/mevscope/mevscope/errors"
)

// Options carries the raw, operator-supplied clause strings. Empty
// strings and nil slices mean the clause is absent.
type Options struct {
	From          string
	To            string
	Touching      string
	Position      string
	Events        []string
	NotEvents     []string
	Method        string
	ERC20Transfer string
	Value         string
	GasPrice      string
	TxCost        string
	RealGasPrice  string
	RealTxCost    string
	Failed        bool
}

// FilterSpec is a conjunction of parsed clauses. Multiple --event flags
// must all hold (each satisfied by any one log); --not-event flags
// exclude a transaction when any log matches any of them.
type FilterSpec struct {
	From     *AddressOrName
	To       *AddressOrName
	Touching *common.Address
	Position *PositionRange

	Events    []*EventQuery
	NotEvents []*EventQuery
	Method    *SignatureQuery
	ERC20     *ERC20TransferQuery

	Value        *Threshold
	GasPrice     *Threshold
	TxCost       *Threshold
	RealGasPrice *Threshold
	RealTxCost   *Threshold

	FailedOnly bool

	// methodSubcalls enables the trace-backed subcall leg of the method
	// clause; without tracing the clause is root-only.
	methodSubcalls bool
}

// watchDefaultPositions keeps live mode focused on the top of each block
// when the operator gave no explicit range.
var watchDefaultPositions = PositionRange{From: 0, To: 4}

// Parse validates the options into a FilterSpec. traceEnabled gates the
// trace-dependent clauses: using them without tracing is a parse error.
// watchMode applies the default top-of-block position range.
func Parse(opts Options, traceEnabled, watchMode bool) (*FilterSpec, error) {
	if !traceEnabled {
		if opts.Touching != "" {
			return nil, scoperr.NewParseError("--touching", "'--touching' filter requires --trace [rpc|replay|auto]")
		}
		if opts.RealTxCost != "" {
			return nil, scoperr.NewParseError("--real-tx-cost", "'--real-tx-cost' filter requires --trace [rpc|replay|auto]")
		}
		if opts.RealGasPrice != "" {
			return nil, scoperr.NewParseError("--real-gas-price", "'--real-gas-price' filter requires --trace [rpc|replay|auto]")
		}
	}

	spec := &FilterSpec{
		FailedOnly:     opts.Failed,
		methodSubcalls: traceEnabled,
	}
	var err error

	if opts.From != "" {
		if spec.From, err = ParseAddressOrName(opts.From); err != nil {
			return nil, err
		}
	}
	if opts.To != "" {
		if spec.To, err = ParseAddressOrName(opts.To); err != nil {
			return nil, err
		}
	}
	if opts.Touching != "" {
		if !common.IsHexAddress(opts.Touching) {
			return nil, scoperr.NewParseError(opts.Touching, "'--touching' takes a contract address")
		}
		addr := common.HexToAddress(opts.Touching)
		spec.Touching = &addr
	}

	switch {
	case opts.Position != "":
		if spec.Position, err = ParsePositionRange(opts.Position); err != nil {
			return nil, err
		}
	case watchMode:
		r := watchDefaultPositions
		spec.Position = &r
	}

	for _, raw := range opts.Events {
		q, err := ParseEventQuery(raw)
		if err != nil {
			return nil, err
		}
		spec.Events = append(spec.Events, q)
	}
	for _, raw := range opts.NotEvents {
		q, err := ParseEventQuery(raw)
		if err != nil {
			return nil, err
		}
		spec.NotEvents = append(spec.NotEvents, q)
	}

	if opts.Method != "" {
		if spec.Method, err = ParseSignatureQuery(opts.Method); err != nil {
			return nil, err
		}
	}
	if opts.ERC20Transfer != "" {
		if spec.ERC20, err = ParseERC20TransferQuery(opts.ERC20Transfer); err != nil {
			return nil, err
		}
	}

	if opts.Value != "" {
		if spec.Value, err = ParseThreshold(opts.Value); err != nil {
			return nil, err
		}
	}
	if opts.GasPrice != "" {
		if spec.GasPrice, err = ParseThreshold(opts.GasPrice); err != nil {
			return nil, err
		}
	}
	if opts.TxCost != "" {
		if spec.TxCost, err = ParseThreshold(opts.TxCost); err != nil {
			return nil, err
		}
	}
	if opts.RealGasPrice != "" {
		if spec.RealGasPrice, err = ParseThreshold(opts.RealGasPrice); err != nil {
			return nil, err
		}
	}
	if opts.RealTxCost != "" {
		if spec.RealTxCost, err = ParseThreshold(opts.RealTxCost); err != nil {
			return nil, err
		}
	}

	return spec, nil
}

// NeedsTrace reports whether any clause can require a TraceResult.
func (s *FilterSpec) NeedsTrace() bool {
	return s.Touching != nil || s.RealGasPrice != nil || s.RealTxCost != nil ||
		(s.Method != nil && s.methodSubcalls)
}

// NeedsENS reports whether evaluation resolves reverse names.
func (s *FilterSpec) NeedsENS() bool {
	return (s.From != nil && s.From.ENSName != "") || (s.To != nil && s.To.ENSName != "")
}

// PositionPrunes reports whether pos can be skipped without inspecting
// the transaction at all.
func (s *FilterSpec) PositionPrunes(pos uint32) bool {
	return s.Position != nil && !s.Position.Contains(pos)
}

// MaxPosition returns the highest position the spec can match, and
// whether such a bound exists. The orchestrator uses it to stop block
// iteration early.
func (s *FilterSpec) MaxPosition() (uint32, bool) {
	if s.Position == nil {
		return 0, false
	}
	return s.Position.To, true
}
