package rpcpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelector_UnknownFallsBackToRoundRobin(t *testing.T) {
	s := NewSelector("bogus")
	assert.Equal(t, StrategyRoundRobin, s.CurrentStrategy())
}

func TestSelector_Pick(t *testing.T) {
	endpoints := []*Endpoint{
		NewEndpoint("https://a.example"),
		NewEndpoint("https://b.example"),
		NewEndpoint("https://c.example"),
	}

	t.Run("empty set", func(t *testing.T) {
		s := NewSelector(StrategyRoundRobin)
		assert.Nil(t, s.Pick(nil))
	})

	t.Run("round robin cycles", func(t *testing.T) {
		s := NewSelector(StrategyRoundRobin)

		seen := make(map[string]int)
		for i := 0; i < 9; i++ {
			seen[s.Pick(endpoints).URL]++
		}
		assert.Equal(t, 3, seen["https://a.example"])
		assert.Equal(t, 3, seen["https://b.example"])
		assert.Equal(t, 3, seen["https://c.example"])
	})

	t.Run("weighted prefers healthy", func(t *testing.T) {
		s := NewSelector(StrategyWeighted)

		healthy := NewEndpoint("https://healthy.example")
		dying := NewEndpoint("https://dying.example")
		for i := 0; i < 10; i++ {
			dying.Metrics.RecordFailure(assert.AnError, 0)
		}
		require.Equal(t, 0.0, dying.Metrics.HealthScore())

		// With one weight at zero, selection can only land on the
		// healthy endpoint.
		for i := 0; i < 20; i++ {
			picked := s.Pick([]*Endpoint{dying, healthy})
			assert.Equal(t, "https://healthy.example", picked.URL)
		}
	})

	t.Run("single endpoint short-circuits", func(t *testing.T) {
		s := NewSelector(StrategyWeighted)
		only := []*Endpoint{NewEndpoint("https://only.example")}
		assert.Equal(t, "https://only.example", s.Pick(only).URL)
	})
}
