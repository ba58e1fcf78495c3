package metadata

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// defaultPriceTTL is how long one feed answer is served before the
// oracle is asked again.
const defaultPriceTTL = 60 * time.Second

// feedDecimals is the fixed precision of Chainlink USD feeds.
const feedDecimals = 1e8

// Pricer quotes the chain's native token in USD from a Chainlink-style
// aggregator, memoizing the answer for a short interval. A nil Pricer
// and a Pricer without an oracle are both valid and always miss, so
// display code can attach USD figures unconditionally.
type Pricer struct {
	caller contractCaller
	oracle common.Address
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	price     float64
	fetchedAt time.Time
}

// NewPricer builds a Pricer against the feed at oracle. An empty or
// malformed oracle address yields a disabled Pricer.
func NewPricer(caller contractCaller, oracle string, logger zerolog.Logger) *Pricer {
	p := &Pricer{
		caller: caller,
		ttl:    defaultPriceTTL,
		now:    time.Now,
		logger: logger.With().Str("component", "pricer").Logger(),
	}
	if common.IsHexAddress(oracle) {
		p.oracle = common.HexToAddress(oracle)
	}
	return p
}

// NativeUSD returns the latest feed answer in USD. ok is false when no
// oracle is configured, the caller is missing, or the first fetch
// fails; after one success the memoized quote is served through feed
// outages.
func (p *Pricer) NativeUSD(ctx context.Context) (float64, bool) {
	if p == nil || p.caller == nil || p.oracle == (common.Address{}) {
		return 0, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.fetchedAt.IsZero() && p.now().Sub(p.fetchedAt) < p.ttl {
		return p.price, true
	}

	price, err := p.latestAnswer(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("price feed call failed")
		if !p.fetchedAt.IsZero() {
			return p.price, true
		}
		return 0, false
	}

	p.price = price
	p.fetchedAt = p.now()
	return p.price, true
}

func (p *Pricer) latestAnswer(ctx context.Context) (float64, error) {
	msg := ethereum.CallMsg{
		To:   &p.oracle,
		Data: packCall(selLatestRoundData),
	}
	ret, err := p.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, err
	}

	values, err := latestRoundResult.Unpack(ret)
	if err != nil {
		return 0, errors.Wrap(err, "decode latestRoundData")
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return 0, errors.New("unexpected answer type")
	}

	price, _ := new(big.Float).Quo(new(big.Float).SetInt(answer), big.NewFloat(feedDecimals)).Float64()
	return price, nil
}
