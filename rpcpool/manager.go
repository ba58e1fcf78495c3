package rpcpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	scoperr "github.com/mevscope/mevscope/errors"
)

// Client is the transport handle attached to each endpoint. The EVM
// layer supplies the concrete adapter through a ClientFactory.
type Client interface {
	// Ping verifies the endpoint answers at all.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// ClientFactory builds a transport client for one endpoint URL.
type ClientFactory func(url string) (Client, error)

// Config tunes pool behavior. Zero values fall back to defaults.
type Config struct {
	Strategy Strategy
	// MaxAttempts bounds failover retries per Execute call.
	MaxAttempts int
	// UnhealthyThreshold is the failure streak that excludes an endpoint.
	UnhealthyThreshold int
	// RecoveryInterval is the cooldown before an excluded endpoint is
	// given another chance.
	RecoveryInterval time.Duration
	// MinHealthyEndpoints gates Start.
	MinHealthyEndpoints int
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyRoundRobin,
		MaxAttempts:         3,
		UnhealthyThreshold:  5,
		RecoveryInterval:    2 * time.Minute,
		MinHealthyEndpoints: 1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = def.UnhealthyThreshold
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = def.RecoveryInterval
	}
	if c.MinHealthyEndpoints <= 0 {
		c.MinHealthyEndpoints = def.MinHealthyEndpoints
	}
	return c
}

// Manager owns the endpoint pool for one chain: selection, per-request
// metrics, state transitions and failover execution.
type Manager struct {
	chainID   uint64
	endpoints []*Endpoint
	selector  *Selector
	cfg       Config
	factory   ClientFactory
	logger    zerolog.Logger
	now       func() time.Time
	mu        sync.RWMutex
}

// NewManager builds a pool over the given URLs. Returns nil when no
// URLs are provided; callers treat a nil pool as single-endpoint mode.
func NewManager(chainID uint64, urls []string, cfg Config, factory ClientFactory, logger zerolog.Logger) *Manager {
	if len(urls) == 0 {
		logger.Warn().Uint64("chain_id", chainID).Msg("no RPC URLs provided for pool")
		return nil
	}

	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = NewEndpoint(url)
	}

	cfg = cfg.withDefaults()
	return &Manager{
		chainID:   chainID,
		endpoints: endpoints,
		selector:  NewSelector(cfg.Strategy),
		cfg:       cfg,
		factory:   factory,
		logger:    logger.With().Str("component", "rpc_pool").Uint64("chain_id", chainID).Logger(),
		now:       time.Now,
	}
}

// Start dials every endpoint and verifies enough of them came up.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info().
		Int("endpoint_count", len(m.endpoints)).
		Str("strategy", string(m.selector.CurrentStrategy())).
		Msg("starting RPC pool")

	for _, endpoint := range m.endpoints {
		if err := m.initEndpoint(endpoint); err != nil {
			m.logger.Warn().Str("url", endpoint.URL).Err(err).Msg("failed to initialize endpoint")
			endpoint.SetState(StateUnhealthy)
		}
	}

	healthy := m.UsableCount()
	if healthy < m.cfg.MinHealthyEndpoints {
		return scoperr.NewConnectivityError(m.chainID,
			fmt.Sprintf("insufficient healthy endpoints: %d/%d (minimum %d)",
				healthy, len(m.endpoints), m.cfg.MinHealthyEndpoints), nil)
	}

	m.logger.Info().
		Int("healthy_endpoints", healthy).
		Int("total_endpoints", len(m.endpoints)).
		Msg("RPC pool started")
	return nil
}

// Stop closes every endpoint's client connection.
func (m *Manager) Stop() {
	for _, endpoint := range m.endpoints {
		if client := endpoint.Client(); client != nil {
			if err := client.Close(); err != nil {
				m.logger.Warn().Str("url", endpoint.URL).Err(err).Msg("failed to close client connection")
			}
		}
	}
	m.logger.Debug().Msg("RPC pool stopped")
}

func (m *Manager) initEndpoint(endpoint *Endpoint) error {
	client, err := m.factory(endpoint.URL)
	if err != nil {
		return errors.Wrapf(err, "create client for %s", endpoint.URL)
	}
	endpoint.SetClient(client)
	endpoint.SetState(StateHealthy)
	return nil
}

// SelectEndpoint picks a usable endpoint, reviving excluded ones whose
// cooldown has elapsed.
func (m *Manager) SelectEndpoint() (*Endpoint, error) {
	usable := m.usableEndpoints()
	if len(usable) == 0 {
		return nil, scoperr.New(scoperr.ErrCodeEndpointsExhausted, m.chainID, "no healthy endpoints available", nil)
	}

	selected := m.selector.Pick(usable)
	if selected == nil {
		return nil, scoperr.New(scoperr.ErrCodeEndpointsExhausted, m.chainID, "endpoint selection failed", nil)
	}
	selected.markUsed()
	return selected, nil
}

// usableEndpoints returns endpoints that may serve requests. Excluded
// endpoints past the recovery cooldown are re-admitted as degraded so
// they earn their way back with real traffic.
func (m *Manager) usableEndpoints() []*Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	usable := make([]*Endpoint, 0, len(m.endpoints))
	for _, endpoint := range m.endpoints {
		if endpoint.State() == StateExcluded && endpoint.ExcludedFor(now) >= m.cfg.RecoveryInterval {
			endpoint.SetState(StateDegraded)
			m.logger.Info().Str("url", endpoint.URL).Msg("excluded endpoint re-admitted for probation")
		}
		if endpoint.Usable() {
			usable = append(usable, endpoint)
		}
	}
	return usable
}

// UsableCount returns how many endpoints may currently serve requests.
func (m *Manager) UsableCount() int {
	return len(m.usableEndpoints())
}

// Endpoints returns a copy of the pool membership.
func (m *Manager) Endpoints() []*Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	endpoints := make([]*Endpoint, len(m.endpoints))
	copy(endpoints, m.endpoints)
	return endpoints
}

// Execute runs fn with failover: on failure the next endpoint is tried,
// up to MaxAttempts, folding each outcome into endpoint metrics.
func (m *Manager) Execute(ctx context.Context, operation string, fn func(Client) error) error {
	var lastErr error

	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		endpoint, err := m.SelectEndpoint()
		if err != nil {
			if lastErr != nil {
				return scoperr.New(scoperr.ErrCodeEndpointsExhausted, m.chainID,
					fmt.Sprintf("%s failed, no endpoints left", operation), lastErr)
			}
			return err
		}

		client := endpoint.Client()
		if client == nil {
			m.logger.Error().Str("operation", operation).Str("url", endpoint.URL).
				Msg("endpoint has no client attached")
			continue
		}

		start := m.now()
		err = fn(client)
		latency := time.Since(start)

		if err == nil {
			m.ReportOutcome(endpoint, true, latency, nil)
			m.logger.Debug().
				Str("operation", operation).
				Str("url", endpoint.URL).
				Dur("latency", latency).
				Int("attempt", attempt+1).
				Msg("operation completed")
			return nil
		}

		m.ReportOutcome(endpoint, false, latency, err)
		lastErr = err

		// A dead caller context means the failure is ours, not the
		// endpoint's. Stop failing over.
		if ctx.Err() != nil {
			return err
		}

		m.logger.Warn().
			Str("operation", operation).
			Str("url", endpoint.URL).
			Dur("latency", latency).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}

	return scoperr.New(scoperr.ErrCodeEndpointsExhausted, m.chainID,
		fmt.Sprintf("%s failed after %d attempts", operation, m.cfg.MaxAttempts), lastErr)
}

// ReportOutcome folds a request outcome into endpoint metrics and
// applies the promote/demote/exclude transitions.
func (m *Manager) ReportOutcome(endpoint *Endpoint, success bool, latency time.Duration, err error) {
	if success {
		endpoint.Metrics.RecordSuccess(latency)

		if endpoint.State() == StateDegraded && endpoint.Metrics.SuccessRate() > 0.8 {
			endpoint.SetState(StateHealthy)
			m.logger.Info().
				Str("url", endpoint.URL).
				Float64("success_rate", endpoint.Metrics.SuccessRate()).
				Msg("endpoint promoted to healthy")
		}
		return
	}

	endpoint.Metrics.RecordFailure(err, latency)

	failures := endpoint.Metrics.ConsecutiveFailures()
	switch {
	case failures >= m.cfg.UnhealthyThreshold:
		endpoint.SetState(StateExcluded)
		m.logger.Warn().
			Str("url", endpoint.URL).
			Int("consecutive_failures", failures).
			Err(err).
			Msg("endpoint excluded after consecutive failures")
	case endpoint.Metrics.SuccessRate() < 0.5 && endpoint.State() == StateHealthy:
		endpoint.SetState(StateDegraded)
		m.logger.Warn().
			Str("url", endpoint.URL).
			Float64("success_rate", endpoint.Metrics.SuccessRate()).
			Msg("endpoint downgraded to degraded")
	}
}
