package metadata

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevscope/mevscope/testutils"
)

const testFeed = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"

func encodeRound(t *testing.T, answer *big.Int) []byte {
	t.Helper()
	data, err := latestRoundResult.Pack(
		big.NewInt(7), answer, big.NewInt(0), big.NewInt(0), big.NewInt(7),
	)
	require.NoError(t, err)
	return data
}

func TestPricerQuoteAndTTL(t *testing.T) {
	// 2500.12345678 USD at the feed's eight decimals.
	caller := &fakeCaller{handler: func(ethereum.CallMsg) ([]byte, error) {
		return encodeRound(t, big.NewInt(250012345678)), nil
	}}
	pricer := NewPricer(caller, testFeed, testutils.NewTestLogger(t))

	current := time.Now()
	pricer.now = func() time.Time { return current }
	ctx := context.Background()

	price, ok := pricer.NativeUSD(ctx)
	require.True(t, ok)
	assert.InDelta(t, 2500.12345678, price, 1e-6)
	assert.Equal(t, 1, caller.callCount())

	// Inside the TTL the memoized quote is served.
	price, ok = pricer.NativeUSD(ctx)
	require.True(t, ok)
	assert.InDelta(t, 2500.12345678, price, 1e-6)
	assert.Equal(t, 1, caller.callCount())

	current = current.Add(2 * time.Minute)
	_, ok = pricer.NativeUSD(ctx)
	require.True(t, ok)
	assert.Equal(t, 2, caller.callCount())
}

func TestPricerDisabledWithoutOracle(t *testing.T) {
	caller := &fakeCaller{handler: func(ethereum.CallMsg) ([]byte, error) {
		return encodeRound(t, big.NewInt(1)), nil
	}}

	pricer := NewPricer(caller, "", testutils.NewTestLogger(t))
	_, ok := pricer.NativeUSD(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 0, caller.callCount())

	var missing *Pricer
	_, ok = missing.NativeUSD(context.Background())
	assert.False(t, ok)
}

func TestPricerServesStaleQuoteOnFailure(t *testing.T) {
	caller := &fakeCaller{}
	caller.handler = func(ethereum.CallMsg) ([]byte, error) {
		if caller.callCount() > 1 {
			return nil, errors.New("feed unreachable")
		}
		return encodeRound(t, big.NewInt(250000000000)), nil
	}
	pricer := NewPricer(caller, testFeed, testutils.NewTestLogger(t))

	current := time.Now()
	pricer.now = func() time.Time { return current }
	ctx := context.Background()

	price, ok := pricer.NativeUSD(ctx)
	require.True(t, ok)
	assert.InDelta(t, 2500.0, price, 1e-9)

	current = current.Add(2 * time.Minute)
	price, ok = pricer.NativeUSD(ctx)
	require.True(t, ok)
	assert.InDelta(t, 2500.0, price, 1e-9)
	assert.Equal(t, 2, caller.callCount())
}

func TestPricerFirstFetchFailure(t *testing.T) {
	caller := &fakeCaller{handler: func(ethereum.CallMsg) ([]byte, error) {
		return nil, errors.New("feed unreachable")
	}}
	pricer := NewPricer(caller, testFeed, testutils.NewTestLogger(t))

	_, ok := pricer.NativeUSD(context.Background())
	assert.False(t, ok)
	assert.Equal(t, 1, caller.callCount())
}
