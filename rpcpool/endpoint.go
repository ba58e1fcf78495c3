package rpcpool

import (
	"sync"
	"time"
)

// State buckets an endpoint by usability.
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateUnhealthy
	StateExcluded
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	case StateExcluded:
		return "excluded"
	default:
		return "unknown"
	}
}

// Metrics tracks request outcomes for a single endpoint. Latency is kept
// as an exponential moving average so one slow call does not dominate.
type Metrics struct {
	mu                  sync.RWMutex
	totalRequests       uint64
	successfulRequests  uint64
	failedRequests      uint64
	averageLatency      time.Duration
	consecutiveFailures int
	lastSuccessTime     time.Time
	lastErrorTime       time.Time
	lastError           error
	healthScore         float64
}

const latencyEMAAlpha = 0.1

// RecordSuccess folds one successful request into the metrics.
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.successfulRequests++
	m.consecutiveFailures = 0
	m.lastSuccessTime = time.Now()

	if m.averageLatency == 0 {
		m.averageLatency = latency
	} else {
		m.averageLatency = time.Duration(float64(m.averageLatency)*(1-latencyEMAAlpha) + float64(latency)*latencyEMAAlpha)
	}

	m.recalcHealthScore()
}

// RecordFailure folds one failed request into the metrics.
func (m *Metrics) RecordFailure(err error, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.failedRequests++
	m.consecutiveFailures++
	m.lastErrorTime = time.Now()
	m.lastError = err

	// Timeouts still carry latency information worth tracking.
	if latency > 0 && m.averageLatency > 0 {
		m.averageLatency = time.Duration(float64(m.averageLatency)*(1-latencyEMAAlpha) + float64(latency)*latencyEMAAlpha)
	}

	m.recalcHealthScore()
}

// recalcHealthScore derives a 0-100 score from success rate, average
// latency above a 1s baseline and the current failure streak.
// Callers must hold m.mu.
func (m *Metrics) recalcHealthScore() {
	if m.totalRequests == 0 {
		m.healthScore = 100.0
		return
	}

	successRate := float64(m.successfulRequests) / float64(m.totalRequests)
	score := successRate * 100.0

	if m.averageLatency > time.Second {
		extraSeconds := m.averageLatency.Seconds() - 1.0
		latencyPenalty := extraSeconds * 5.0
		if latencyPenalty > 20.0 {
			latencyPenalty = 20.0
		}
		score -= latencyPenalty
	}

	failurePenalty := float64(m.consecutiveFailures) * 10.0
	if failurePenalty > 50.0 {
		failurePenalty = 50.0
	}
	score -= failurePenalty

	if score < 0 {
		score = 0
	}
	m.healthScore = score
}

// HealthScore returns the current 0-100 health score.
func (m *Metrics) HealthScore() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthScore
}

// SuccessRate returns the lifetime success rate. An endpoint with no
// traffic yet counts as fully successful.
func (m *Metrics) SuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.totalRequests == 0 {
		return 1.0
	}
	return float64(m.successfulRequests) / float64(m.totalRequests)
}

// ConsecutiveFailures returns the current failure streak.
func (m *Metrics) ConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveFailures
}

// AverageLatency returns the smoothed request latency.
func (m *Metrics) AverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageLatency
}

// TotalRequests returns how many requests this endpoint has served.
func (m *Metrics) TotalRequests() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests
}

// LastError returns the most recent failure, if any.
func (m *Metrics) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Endpoint is one pool member: a URL, its transport client and its
// accumulated health metrics.
type Endpoint struct {
	URL     string
	Metrics *Metrics

	mu         sync.RWMutex
	client     Client
	state      State
	excludedAt time.Time
	lastUsed   time.Time
}

// NewEndpoint creates an endpoint that starts out healthy.
func NewEndpoint(url string) *Endpoint {
	return &Endpoint{
		URL:     url,
		state:   StateHealthy,
		Metrics: &Metrics{healthScore: 100.0},
	}
}

// SetClient attaches the transport client for this endpoint.
func (e *Endpoint) SetClient(client Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = client
}

// Client returns the attached transport client, or nil.
func (e *Endpoint) Client() Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// SetState moves the endpoint into a new state, stamping the exclusion
// time on the healthy-to-excluded edge.
func (e *Endpoint) SetState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state == StateExcluded && e.state != StateExcluded {
		e.excludedAt = time.Now()
	}
	e.state = state
}

// State returns the endpoint's current state.
func (e *Endpoint) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Usable reports whether the endpoint may serve requests.
func (e *Endpoint) Usable() bool {
	state := e.State()
	return state == StateHealthy || state == StateDegraded
}

// ExcludedFor reports how long the endpoint has been excluded.
func (e *Endpoint) ExcludedFor(now time.Time) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateExcluded || e.excludedAt.IsZero() {
		return 0
	}
	return now.Sub(e.excludedAt)
}

func (e *Endpoint) markUsed() {
	e.mu.Lock()
	e.lastUsed = time.Now()
	e.mu.Unlock()
}

// LastUsed returns when the endpoint last served a request.
func (e *Endpoint) LastUsed() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastUsed
}
