package query

import (
	"sync"

	"github.com/mevscope/mevscope/model"
)

// Match is one transaction that satisfied the filter, together with
// the block it came from and the trace result when one was produced.
type Match struct {
	Block *model.Block
	Tx    *model.Transaction

	// Trace carries the execution trace when a trace-dependent clause
	// was evaluated. It is nil for matches that passed on cheap
	// clauses alone.
	Trace *model.TraceResult

	// TraceUnavailable marks a transaction whose trace failed or
	// diverged. The transaction is still reported, but trace-derived
	// fields could not be computed.
	TraceUnavailable bool
}

// Sink consumes matches in evaluation order. Implementations must not
// block indefinitely; the orchestrator calls Emit inline.
type Sink interface {
	Emit(m Match)
}

// FuncSink adapts a plain function to the Sink interface.
type FuncSink func(Match)

func (f FuncSink) Emit(m Match) { f(m) }

// CollectSink buffers matches for delivery after the run completes,
// which lets callers print newest-first without holding the scan back.
type CollectSink struct {
	mu      sync.Mutex
	matches []Match
}

func NewCollectSink() *CollectSink {
	return &CollectSink{}
}

func (s *CollectSink) Emit(m Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, m)
}

// Len reports how many matches are buffered.
func (s *CollectSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches)
}

// Drain returns the buffered matches and resets the sink. With reverse
// set the newest match comes first.
func (s *CollectSink) Drain(reverse bool) []Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.matches
	s.matches = nil
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
