package rpcpool

import (
	"math/rand"
	"sync/atomic"
)

// Strategy names how requests are spread across usable endpoints.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round-robin"
	StrategyWeighted   Strategy = "weighted"
)

// Selector picks the next endpoint according to the configured strategy.
type Selector struct {
	strategy Strategy
	cursor   atomic.Uint32
}

// NewSelector returns a selector, falling back to round-robin for
// unknown strategy names.
func NewSelector(strategy Strategy) *Selector {
	if strategy != StrategyRoundRobin && strategy != StrategyWeighted {
		strategy = StrategyRoundRobin
	}
	return &Selector{strategy: strategy}
}

// Pick selects one endpoint from the usable set, or nil when empty.
func (s *Selector) Pick(usable []*Endpoint) *Endpoint {
	if len(usable) == 0 {
		return nil
	}

	switch s.strategy {
	case StrategyWeighted:
		return s.pickWeighted(usable)
	default:
		return s.pickRoundRobin(usable)
	}
}

func (s *Selector) pickRoundRobin(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 1 {
		return endpoints[0]
	}
	index := s.cursor.Add(1) % uint32(len(endpoints))
	return endpoints[index]
}

// pickWeighted samples proportionally to health scores, so degraded
// endpoints still see occasional traffic and get a chance to recover.
func (s *Selector) pickWeighted(endpoints []*Endpoint) *Endpoint {
	if len(endpoints) == 1 {
		return endpoints[0]
	}

	totalWeight := 0.0
	for _, endpoint := range endpoints {
		totalWeight += endpoint.Metrics.HealthScore()
	}
	if totalWeight == 0 {
		return s.pickRoundRobin(endpoints)
	}

	target := rand.Float64() * totalWeight
	cumulative := 0.0
	for _, endpoint := range endpoints {
		cumulative += endpoint.Metrics.HealthScore()
		if cumulative >= target {
			return endpoint
		}
	}
	return endpoints[len(endpoints)-1]
}

// CurrentStrategy returns the strategy this selector applies.
func (s *Selector) CurrentStrategy() Strategy {
	return s.strategy
}
