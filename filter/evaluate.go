package filter

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevscope/mevscope/model"
)

// Resolver supplies the metadata evaluation needs: dictionary text for
// regex/name patterns and reverse names for ENS clauses. Implementations
// report misses as ok=false; they never fail evaluation.
type Resolver interface {
	EventText(ctx context.Context, topic0 common.Hash) (string, bool)
	MethodText(ctx context.Context, selector []byte) (string, bool)
	ReverseName(ctx context.Context, addr common.Address) (string, bool)
}

// Verdict is the cheap phase's outcome.
type Verdict int

const (
	// VerdictFail means a trace-independent clause failed; the trace
	// engine must not be invoked.
	VerdictFail Verdict = iota

	// VerdictPass means every clause is satisfied without a trace.
	VerdictPass

	// VerdictNeedsTrace means all cheap clauses passed and at least one
	// remaining clause requires a TraceResult.
	VerdictNeedsTrace
)

// EvaluateCheap runs every trace-independent clause in fixed cost order:
// position and failed flag, receipt-derived thresholds, from/to, then
// log-derived clauses, then the root leg of the method clause.
func (s *FilterSpec) EvaluateCheap(ctx context.Context, tx *model.Transaction, res Resolver) Verdict {
	if s.Position != nil && !s.Position.Contains(tx.Position) {
		return VerdictFail
	}
	if s.FailedOnly && tx.Success {
		return VerdictFail
	}

	if s.Value != nil && !s.Value.Matches(tx.Value) {
		return VerdictFail
	}
	if s.GasPrice != nil && !s.GasPrice.Matches(tx.EffectiveGasPrice) {
		return VerdictFail
	}
	if s.TxCost != nil && !s.TxCost.Matches(tx.Cost()) {
		return VerdictFail
	}

	if s.From != nil && !s.matchesAddressOrName(ctx, s.From, tx.From, res) {
		return VerdictFail
	}
	if s.To != nil {
		if tx.To == nil || !s.matchesAddressOrName(ctx, s.To, *tx.To, res) {
			return VerdictFail
		}
	}

	for _, q := range s.Events {
		if !anyLogMatches(ctx, q, tx.Logs, res) {
			return VerdictFail
		}
	}
	for _, q := range s.NotEvents {
		if anyLogMatches(ctx, q, tx.Logs, res) {
			return VerdictFail
		}
	}
	if s.ERC20 != nil && !s.erc20Matches(tx.Logs) {
		return VerdictFail
	}

	methodPending := false
	if s.Method != nil {
		if !s.methodMatchesRoot(ctx, tx, res) {
			if !s.methodSubcalls {
				return VerdictFail
			}
			methodPending = true
		}
	}

	if methodPending || s.Touching != nil || s.RealGasPrice != nil || s.RealTxCost != nil {
		return VerdictNeedsTrace
	}
	return VerdictPass
}

// EvaluateTrace runs the trace-dependent clauses. It must only be called
// after EvaluateCheap returned VerdictNeedsTrace.
func (s *FilterSpec) EvaluateTrace(ctx context.Context, tx *model.Transaction, trace *model.TraceResult, res Resolver) bool {
	if trace == nil {
		return false
	}

	if s.Method != nil && s.methodSubcalls && !s.methodMatchesRoot(ctx, tx, res) {
		if !s.methodMatchesSubcalls(ctx, trace, res) {
			return false
		}
	}
	if s.Touching != nil && !trace.Touches(*s.Touching) {
		return false
	}
	if s.RealGasPrice != nil && !s.RealGasPrice.Matches(trace.RealGasPrice(tx)) {
		return false
	}
	if s.RealTxCost != nil && !s.RealTxCost.Matches(trace.RealCost(tx)) {
		return false
	}
	return true
}

func (s *FilterSpec) matchesAddressOrName(ctx context.Context, want *AddressOrName, addr common.Address, res Resolver) bool {
	if want.Address != nil {
		return *want.Address == addr
	}
	if res == nil {
		return false
	}
	name, ok := res.ReverseName(ctx, addr)
	return ok && strings.ToLower(name) == want.ENSName
}

func anyLogMatches(ctx context.Context, q *EventQuery, logs []model.Log, res Resolver) bool {
	for i := range logs {
		log := &logs[i]
		if q.Address != nil && *q.Address != log.Address {
			continue
		}
		if q.Sig == nil {
			return true
		}
		topic0 := log.Topic0()
		text, known := "", false
		if q.Sig.NeedsText() && res != nil {
			text, known = res.EventText(ctx, topic0)
		}
		if q.Sig.MatchesTopic(topic0, text, known) {
			return true
		}
	}
	return false
}

func (s *FilterSpec) erc20Matches(logs []model.Log) bool {
	for i := range logs {
		transfer, ok := logs[i].AsERC20Transfer()
		if !ok || transfer.Token != s.ERC20.Token {
			continue
		}
		if s.ERC20.Amount == nil || s.ERC20.Amount.Matches(transfer.Amount) {
			return true
		}
	}
	return false
}

func (s *FilterSpec) methodMatchesRoot(ctx context.Context, tx *model.Transaction, res Resolver) bool {
	selector := tx.Selector()
	if selector == nil {
		return false
	}
	text, known := "", false
	if s.Method.NeedsText() && res != nil {
		text, known = res.MethodText(ctx, selector)
	}
	return s.Method.MatchesSelector(selector, text, known)
}

func (s *FilterSpec) methodMatchesSubcalls(ctx context.Context, trace *model.TraceResult, res Resolver) bool {
	for _, call := range trace.Flat()[1:] {
		selector := call.Selector()
		if selector == nil {
			continue
		}
		text, known := "", false
		if s.Method.NeedsText() && res != nil {
			text, known = res.MethodText(ctx, selector)
		}
		if s.Method.MatchesSelector(selector, text, known) {
			return true
		}
	}
	return false
}
