package query

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/filter"
	"github.com/mevscope/mevscope/model"
	"github.com/mevscope/mevscope/testutils"
	"github.com/mevscope/mevscope/trace"
)

// fakeSource serves canned blocks. Per-block delays let tests scramble
// fetch completion order; per-block errors simulate flaky endpoints.
type fakeSource struct {
	mu      sync.Mutex
	blocks  map[uint64]*model.Block
	delays  map[uint64]time.Duration
	fails   map[uint64]error
	fetched []uint64
}

var _ BlockSource = (*fakeSource)(nil)

func newFakeSource(blocks ...*model.Block) *fakeSource {
	s := &fakeSource{
		blocks: make(map[uint64]*model.Block),
		delays: make(map[uint64]time.Duration),
		fails:  make(map[uint64]error),
	}
	for _, b := range blocks {
		s.blocks[b.Number] = b
	}
	return s
}

func (s *fakeSource) FetchBlock(ctx context.Context, number uint64) (*model.Block, error) {
	s.mu.Lock()
	delay := s.delays[number]
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, number)
	if err := s.fails[number]; err != nil {
		return nil, err
	}
	block, ok := s.blocks[number]
	if !ok {
		return nil, scoperr.NewConnectivityError(1, fmt.Sprintf("no block %d", number), nil)
	}
	return block, nil
}

type traceKey struct {
	block    uint64
	position uint32
}

// fakeTracer returns canned trace results and records every invocation.
type fakeTracer struct {
	mu      sync.Mutex
	results map[traceKey]*model.TraceResult
	fails   map[traceKey]error
	calls   []traceKey
}

var _ trace.Tracer = (*fakeTracer)(nil)

func newFakeTracer() *fakeTracer {
	return &fakeTracer{
		results: make(map[traceKey]*model.TraceResult),
		fails:   make(map[traceKey]error),
	}
}

func (f *fakeTracer) Trace(_ context.Context, block *model.Block, position uint32) (*model.TraceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := traceKey{block: block.Number, position: position}
	f.calls = append(f.calls, key)
	if err := f.fails[key]; err != nil {
		return nil, err
	}
	if result, ok := f.results[key]; ok {
		return result, nil
	}
	return &model.TraceResult{Success: true}, nil
}

func (f *fakeTracer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// stubWatcher announces a fixed list of heads and returns.
type stubWatcher struct {
	heads []uint64
}

func (w *stubWatcher) Run(ctx context.Context, heads chan<- uint64) error {
	for _, number := range w.heads {
		select {
		case heads <- number:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// endlessWatcher announces ascending heads until the context ends.
type endlessWatcher struct {
	next uint64
}

func (w *endlessWatcher) Run(ctx context.Context, heads chan<- uint64) error {
	for {
		select {
		case heads <- w.next:
			w.next++
		case <-ctx.Done():
			return nil
		}
	}
}

func mustParse(t *testing.T, opts filter.Options, traceEnabled, watchMode bool) *filter.FilterSpec {
	t.Helper()
	spec, err := filter.Parse(opts, traceEnabled, watchMode)
	require.NoError(t, err)
	return spec
}

func newTestOrchestrator(t *testing.T, source BlockSource, tracer trace.Tracer, spec *filter.FilterSpec, sink Sink, opts Options) *Orchestrator {
	t.Helper()
	return New(Params{
		ChainID:  1,
		Source:   source,
		Tracer:   tracer,
		Spec:     spec,
		Resolver: testutils.NewFakeResolver(),
		Sink:     sink,
		Options:  opts,
	}, testutils.NewTestLogger(t))
}

func touchingToken() *model.TraceResult {
	return &model.TraceResult{
		Success: true,
		Touched: map[common.Address][]common.Hash{testutils.Token: nil},
	}
}

func TestParseBlockRange(t *testing.T) {
	const latest = 100

	cases := []struct {
		input string
		want  BlockRange
		fails bool
	}{
		{input: "latest", want: BlockRange{From: 100, To: 100}},
		{input: "42", want: BlockRange{From: 42, To: 42}},
		{input: "10:20", want: BlockRange{From: 10, To: 20}},
		{input: "100:100", want: BlockRange{From: 100, To: 100}},
		{input: "5:", want: BlockRange{From: 96, To: 100}},
		{input: "5:latest", want: BlockRange{From: 96, To: 100}},
		{input: "1:", want: BlockRange{From: 100, To: 100}},
		{input: "500:", want: BlockRange{From: 0, To: 100}},
		{input: "101", fails: true},
		{input: "20:10", fails: true},
		{input: "10:101", fails: true},
		{input: "0:", fails: true},
		{input: "abc", fails: true},
		{input: "1:2:3", fails: true},
		{input: "", fails: true},
		{input: ":latest", fails: true},
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseBlockRange(tc.input, latest)
			if tc.fails {
				require.Error(t, err)
				assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeParse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBlockRangeSize(t *testing.T) {
	assert.Equal(t, uint64(1), BlockRange{From: 7, To: 7}.Size())
	assert.Equal(t, uint64(5), BlockRange{From: 96, To: 100}.Size())
}

func TestRunRangeEmitsInBlockOrder(t *testing.T) {
	source := newFakeSource(
		testutils.NewBlock(100, testutils.NewTx(0), testutils.NewTx(0)),
		testutils.NewBlock(101, testutils.NewTx(0), testutils.NewTx(0)),
		testutils.NewBlock(102, testutils.NewTx(0), testutils.NewTx(0)),
	)
	// The first block resolves last, so emission order only stays
	// correct if the consumer respects dispatch order.
	source.delays[100] = 40 * time.Millisecond
	source.delays[102] = 10 * time.Millisecond

	spec := mustParse(t, filter.Options{}, false, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{Prefetch: 3})

	require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 102}))

	matches := sink.Drain(false)
	require.Len(t, matches, 6)
	var got []string
	for _, m := range matches {
		got = append(got, fmt.Sprintf("%d/%d", m.Block.Number, m.Tx.Position))
	}
	assert.Equal(t, []string{"100/0", "100/1", "101/0", "101/1", "102/0", "102/1"}, got)
	for _, m := range matches {
		assert.Nil(t, m.Trace)
		assert.False(t, m.TraceUnavailable)
	}
}

func TestRunRangeEventFiltersPartitionBlock(t *testing.T) {
	transfer := testutils.TransferLog(testutils.Token, testutils.Alice, testutils.Bob, uint256.NewInt(5_000_000))
	newBlock := func() *model.Block {
		return testutils.NewBlock(100,
			testutils.NewTx(0),
			testutils.NewTx(0, testutils.WithLogs(transfer)),
			testutils.NewTx(0),
		)
	}
	query := fmt.Sprintf("Transfer(address,address,uint256)|%s", testutils.Token.Hex())

	t.Run("event selects the emitting transaction", func(t *testing.T) {
		source := newFakeSource(newBlock())
		spec := mustParse(t, filter.Options{Events: []string{query}}, false, false)
		sink := NewCollectSink()
		orch := newTestOrchestrator(t, source, nil, spec, sink, Options{})

		require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 100}))

		matches := sink.Drain(false)
		require.Len(t, matches, 1)
		assert.Equal(t, uint32(1), matches[0].Tx.Position)
	})

	t.Run("not-event selects the rest", func(t *testing.T) {
		source := newFakeSource(newBlock())
		spec := mustParse(t, filter.Options{NotEvents: []string{query}}, false, false)
		sink := NewCollectSink()
		orch := newTestOrchestrator(t, source, nil, spec, sink, Options{})

		require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 100}))

		matches := sink.Drain(false)
		require.Len(t, matches, 2)
		assert.Equal(t, uint32(0), matches[0].Tx.Position)
		assert.Equal(t, uint32(2), matches[1].Tx.Position)
	})
}

func TestRunRangeNeverTracesCheapFailures(t *testing.T) {
	block := testutils.NewBlock(100,
		testutils.NewTx(0),
		testutils.NewTx(0, testutils.WithFrom(testutils.Bob)),
		testutils.NewTx(0),
	)
	source := newFakeSource(block)
	tracer := newFakeTracer()
	tracer.results[traceKey{block: 100, position: 1}] = touchingToken()

	spec := mustParse(t, filter.Options{
		From:     testutils.Bob.Hex(),
		Touching: testutils.Token.Hex(),
	}, true, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, tracer, spec, sink, Options{})

	require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 100}))

	assert.Equal(t, 1, tracer.callCount(), "only the transaction passing every cheap clause may be traced")
	matches := sink.Drain(false)
	require.Len(t, matches, 1)
	assert.Equal(t, uint32(1), matches[0].Tx.Position)
	require.NotNil(t, matches[0].Trace)
	assert.True(t, matches[0].Trace.Touches(testutils.Token))
}

func TestRunRangeTraceClauseGatesEmission(t *testing.T) {
	block := testutils.NewBlock(100, testutils.NewTx(0), testutils.NewTx(0))
	source := newFakeSource(block)
	tracer := newFakeTracer()
	tracer.results[traceKey{block: 100, position: 0}] = &model.TraceResult{Success: true}
	tracer.results[traceKey{block: 100, position: 1}] = touchingToken()

	spec := mustParse(t, filter.Options{Touching: testutils.Token.Hex()}, true, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, tracer, spec, sink, Options{})

	require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 100}))

	assert.Equal(t, 2, tracer.callCount())
	matches := sink.Drain(false)
	require.Len(t, matches, 1)
	assert.Equal(t, uint32(1), matches[0].Tx.Position)
}

func TestRunRangeRealCostFindsBribe(t *testing.T) {
	block := testutils.NewBlock(100, testutils.NewTx(0), testutils.NewTx(0), testutils.NewTx(0))
	source := newFakeSource(block)
	tracer := newFakeTracer()
	// 0.02 ETH paid straight to the coinbase, dwarfing the 0.000042 ETH
	// of gas every fixture transaction burns.
	tracer.results[traceKey{block: 100, position: 0}] = &model.TraceResult{
		Success:          true,
		CoinbaseTransfer: uint256.NewInt(20_000_000_000_000_000),
	}

	spec := mustParse(t, filter.Options{RealTxCost: "ge0.02ether"}, true, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, tracer, spec, sink, Options{})

	require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 100}))

	assert.Equal(t, 3, tracer.callCount(), "a real-cost clause sends every candidate through the tracer")
	matches := sink.Drain(false)
	require.Len(t, matches, 1)
	m := matches[0]
	assert.Equal(t, uint32(0), m.Tx.Position)
	require.NotNil(t, m.Trace)
	assert.Equal(t, 1, m.Trace.RealCost(m.Tx).Cmp(m.Tx.Cost()), "the bribe lifts the real cost above the nominal cost")
}

func TestRunRangeTraceBudget(t *testing.T) {
	transferSelector := []byte{0xa9, 0x05, 0x9c, 0xbb}
	otherInput := []byte{0xab, 0xcd, 0xef, 0x01}

	// Positions 0 and 2 match the method on the root call and need no
	// trace. Positions 1 and 3 only can match through subcalls.
	block := testutils.NewBlock(100,
		testutils.NewTx(0, testutils.WithInput(transferSelector)),
		testutils.NewTx(0, testutils.WithInput(otherInput)),
		testutils.NewTx(0, testutils.WithInput(transferSelector)),
		testutils.NewTx(0, testutils.WithInput(otherInput)),
	)
	source := newFakeSource(block)
	tracer := newFakeTracer()
	tracer.results[traceKey{block: 100, position: 1}] = &model.TraceResult{
		Success: true,
		Root: model.Call{
			Subcalls: []model.Call{{To: testutils.Token, Input: transferSelector}},
		},
	}

	spec := mustParse(t, filter.Options{Method: "0xa9059cbb"}, true, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, tracer, spec, sink, Options{TraceBudget: 1})

	require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 100}))

	assert.Equal(t, 1, tracer.callCount(), "the budget caps trace executions")
	matches := sink.Drain(false)
	require.Len(t, matches, 3)
	var positions []uint32
	for _, m := range matches {
		positions = append(positions, m.Tx.Position)
	}
	assert.Equal(t, []uint32{0, 1, 2}, positions, "cheap matches keep flowing after the budget runs out")
}

func TestRunRangeLimitStopsEarly(t *testing.T) {
	source := newFakeSource(
		testutils.NewBlock(100, testutils.NewTx(0), testutils.NewTx(0), testutils.NewTx(0)),
		testutils.NewBlock(101, testutils.NewTx(0), testutils.NewTx(0), testutils.NewTx(0)),
		testutils.NewBlock(102, testutils.NewTx(0), testutils.NewTx(0), testutils.NewTx(0)),
	)
	spec := mustParse(t, filter.Options{}, false, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{Limit: 4})

	require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 102}))

	matches := sink.Drain(false)
	require.Len(t, matches, 4)
	assert.Equal(t, uint64(101), matches[3].Block.Number)
	assert.Equal(t, uint32(0), matches[3].Tx.Position)
}

func TestRunRangeAbortsOnFetchFailure(t *testing.T) {
	source := newFakeSource(
		testutils.NewBlock(100, testutils.NewTx(0)),
		testutils.NewBlock(102, testutils.NewTx(0)),
	)
	source.fails[101] = scoperr.NewConnectivityError(1, "all endpoints failed", nil)

	spec := mustParse(t, filter.Options{}, false, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{})

	err := orch.RunRange(context.Background(), BlockRange{From: 100, To: 102})
	require.Error(t, err)
	assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeConnectivity))
	assert.Equal(t, 1, sink.Len(), "blocks before the failure are still delivered")
}

func TestRunRangeEmitsWhenTraceUnavailable(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "execution failure", err: scoperr.NewTraceError(1, "trace of 0xfe01 failed", nil)},
		{name: "divergence", err: scoperr.NewDivergenceError(1, "local replay disagrees with the receipt")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			block := testutils.NewBlock(100, testutils.NewTx(0))
			source := newFakeSource(block)
			tracer := newFakeTracer()
			tracer.fails[traceKey{block: 100, position: 0}] = tc.err

			spec := mustParse(t, filter.Options{Touching: testutils.Token.Hex()}, true, false)
			sink := NewCollectSink()
			orch := newTestOrchestrator(t, source, tracer, spec, sink, Options{})

			require.NoError(t, orch.RunRange(context.Background(), BlockRange{From: 100, To: 100}))

			matches := sink.Drain(false)
			require.Len(t, matches, 1)
			assert.True(t, matches[0].TraceUnavailable)
			assert.Nil(t, matches[0].Trace)
		})
	}
}

func TestRunRangeFatalTraceErrorAborts(t *testing.T) {
	block := testutils.NewBlock(100, testutils.NewTx(0))
	source := newFakeSource(block)
	tracer := newFakeTracer()
	tracer.fails[traceKey{block: 100, position: 0}] = scoperr.NewChainMismatchError(1, 137, "https://rpc.example")

	spec := mustParse(t, filter.Options{Touching: testutils.Token.Hex()}, true, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, tracer, spec, sink, Options{})

	err := orch.RunRange(context.Background(), BlockRange{From: 100, To: 100})
	require.Error(t, err)
	assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeChainMismatch))
	assert.Equal(t, 0, sink.Len())
}

func TestRunRangeWithoutBackendIsInternalError(t *testing.T) {
	block := testutils.NewBlock(100, testutils.NewTx(0))
	source := newFakeSource(block)

	spec := mustParse(t, filter.Options{Touching: testutils.Token.Hex()}, true, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{})

	err := orch.RunRange(context.Background(), BlockRange{From: 100, To: 100})
	require.Error(t, err)
	assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeInternal))
}

func TestRunRangeCancellation(t *testing.T) {
	source := newFakeSource(
		testutils.NewBlock(100, testutils.NewTx(0)),
		testutils.NewBlock(101, testutils.NewTx(0)),
	)
	source.delays[101] = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	spec := mustParse(t, filter.Options{}, false, false)
	sink := FuncSink(func(Match) { cancel() })
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{Prefetch: 1})

	start := time.Now()
	err := orch.RunRange(ctx, BlockRange{From: 100, To: 101})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunWatchAppliesDefaultPositions(t *testing.T) {
	wide := func() []*model.Transaction {
		txs := make([]*model.Transaction, 8)
		for i := range txs {
			txs[i] = testutils.NewTx(0)
		}
		return txs
	}
	source := newFakeSource(
		testutils.NewBlock(100, wide()...),
		testutils.NewBlock(101, wide()...),
	)

	spec := mustParse(t, filter.Options{}, false, true)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{})

	watcher := &stubWatcher{heads: []uint64{100, 101}}
	require.NoError(t, orch.RunWatch(context.Background(), watcher))

	matches := sink.Drain(false)
	require.Len(t, matches, 10, "watch mode defaults to the first five positions of each block")
	for _, m := range matches {
		assert.LessOrEqual(t, m.Tx.Position, uint32(4))
	}
}

func TestRunWatchSkipsFailedBlocks(t *testing.T) {
	source := newFakeSource(
		testutils.NewBlock(100, testutils.NewTx(0)),
		testutils.NewBlock(102, testutils.NewTx(0)),
	)
	source.fails[101] = scoperr.NewConnectivityError(1, "all endpoints failed", nil)

	spec := mustParse(t, filter.Options{}, false, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{})

	watcher := &stubWatcher{heads: []uint64{100, 101, 102}}
	require.NoError(t, orch.RunWatch(context.Background(), watcher))

	matches := sink.Drain(false)
	require.Len(t, matches, 2)
	assert.Equal(t, uint64(100), matches[0].Block.Number)
	assert.Equal(t, uint64(102), matches[1].Block.Number)
}

func TestRunWatchFatalErrorAborts(t *testing.T) {
	source := newFakeSource(testutils.NewBlock(100, testutils.NewTx(0)))
	source.fails[101] = scoperr.NewChainMismatchError(1, 137, "https://rpc.example")

	spec := mustParse(t, filter.Options{}, false, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{})

	watcher := &stubWatcher{heads: []uint64{100, 101}}
	err := orch.RunWatch(context.Background(), watcher)
	require.Error(t, err)
	assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeChainMismatch))
}

func TestRunWatchLimitStops(t *testing.T) {
	blocks := make([]*model.Block, 10)
	for i := range blocks {
		blocks[i] = testutils.NewBlock(uint64(100+i), testutils.NewTx(0))
	}
	source := newFakeSource(blocks...)

	spec := mustParse(t, filter.Options{}, false, false)
	sink := NewCollectSink()
	orch := newTestOrchestrator(t, source, nil, spec, sink, Options{Limit: 3})

	watcher := &endlessWatcher{next: 100}
	require.NoError(t, orch.RunWatch(context.Background(), watcher))

	assert.Equal(t, 3, sink.Len())
}
