package rpcpool

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scoperr "github.com/mevscope/mevscope/errors"
)

type mockClient struct {
	url     string
	pingErr error
	closed  bool
}

func (c *mockClient) Ping(ctx context.Context) error { return c.pingErr }
func (c *mockClient) Close() error                   { c.closed = true; return nil }

func mockClientFactory(shouldFail bool) ClientFactory {
	return func(url string) (Client, error) {
		if shouldFail {
			return nil, assert.AnError
		}
		return &mockClient{url: url}, nil
	}
}

func TestNewManager(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name        string
		urls        []string
		expectedNil bool
	}{
		{
			name:        "valid configuration",
			urls:        []string{"https://node1.example", "https://node2.example"},
			expectedNil: false,
		},
		{
			name:        "empty URLs returns nil",
			urls:        []string{},
			expectedNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(1, tt.urls, DefaultConfig(), mockClientFactory(false), logger)

			if tt.expectedNil {
				assert.Nil(t, manager)
			} else {
				require.NotNil(t, manager)
				assert.Equal(t, uint64(1), manager.chainID)
				assert.Len(t, manager.endpoints, len(tt.urls))
			}
		})
	}
}

func TestManager_Start(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("all endpoints dial", func(t *testing.T) {
		manager := NewManager(1, []string{"https://a.example", "https://b.example"},
			DefaultConfig(), mockClientFactory(false), logger)
		require.NotNil(t, manager)

		require.NoError(t, manager.Start(context.Background()))
		assert.Equal(t, 2, manager.UsableCount())
	})

	t.Run("factory failure leaves endpoint unhealthy", func(t *testing.T) {
		manager := NewManager(1, []string{"https://a.example"},
			DefaultConfig(), mockClientFactory(true), logger)
		require.NotNil(t, manager)

		err := manager.Start(context.Background())
		require.Error(t, err)
		assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeConnectivity))
		assert.Equal(t, 0, manager.UsableCount())
	})
}

func TestManager_Stop_ClosesClients(t *testing.T) {
	manager := NewManager(1, []string{"https://a.example", "https://b.example"},
		DefaultConfig(), mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))

	manager.Stop()

	for _, endpoint := range manager.Endpoints() {
		require.NotNil(t, endpoint.Client())
		assert.True(t, endpoint.Client().(*mockClient).closed)
	}
}

func TestManager_SelectEndpoint(t *testing.T) {
	manager := NewManager(1, []string{"https://a.example", "https://b.example"},
		DefaultConfig(), mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))

	t.Run("skips excluded endpoints", func(t *testing.T) {
		manager.endpoints[0].SetState(StateExcluded)

		for i := 0; i < 5; i++ {
			selected, err := manager.SelectEndpoint()
			require.NoError(t, err)
			assert.Equal(t, "https://b.example", selected.URL)
		}
		manager.endpoints[0].SetState(StateHealthy)
	})

	t.Run("errors when nothing usable", func(t *testing.T) {
		manager.endpoints[0].SetState(StateExcluded)
		manager.endpoints[1].SetState(StateExcluded)

		_, err := manager.SelectEndpoint()
		require.Error(t, err)
		assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeEndpointsExhausted))

		manager.endpoints[0].SetState(StateHealthy)
		manager.endpoints[1].SetState(StateHealthy)
	})
}

func TestManager_ExcludedEndpointRecovery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecoveryInterval = time.Minute

	manager := NewManager(1, []string{"https://a.example"}, cfg, mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))

	manager.endpoints[0].SetState(StateExcluded)
	_, err := manager.SelectEndpoint()
	require.Error(t, err)

	// Past the cooldown the endpoint is re-admitted as degraded.
	manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	selected, err := manager.SelectEndpoint()
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, selected.State())
}

func TestManager_Execute(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	t.Run("success on first try", func(t *testing.T) {
		manager := NewManager(1, []string{"https://a.example"}, DefaultConfig(), mockClientFactory(false), logger)
		require.NoError(t, manager.Start(ctx))

		calls := 0
		err := manager.Execute(ctx, "get_block", func(c Client) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, uint64(1), manager.endpoints[0].Metrics.TotalRequests())
	})

	t.Run("fails over to a working endpoint", func(t *testing.T) {
		manager := NewManager(1, []string{"https://bad.example", "https://good.example"},
			DefaultConfig(), mockClientFactory(false), logger)
		require.NoError(t, manager.Start(ctx))

		err := manager.Execute(ctx, "get_block", func(c Client) error {
			if c.(*mockClient).url == "https://bad.example" {
				return assert.AnError
			}
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("exhausts attempts when everything fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxAttempts = 3

		manager := NewManager(1, []string{"https://a.example", "https://b.example"},
			cfg, mockClientFactory(false), logger)
		require.NoError(t, manager.Start(ctx))

		calls := 0
		err := manager.Execute(ctx, "get_block", func(c Client) error {
			calls++
			return assert.AnError
		})
		require.Error(t, err)
		assert.True(t, scoperr.IsCode(err, scoperr.ErrCodeEndpointsExhausted))
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		manager := NewManager(1, []string{"https://a.example", "https://b.example"},
			DefaultConfig(), mockClientFactory(false), logger)
		require.NoError(t, manager.Start(ctx))

		cancelled, cancel := context.WithCancel(ctx)
		calls := 0
		err := manager.Execute(cancelled, "get_block", func(c Client) error {
			calls++
			cancel()
			return cancelled.Err()
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestManager_ReportOutcome_Transitions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UnhealthyThreshold = 3

	manager := NewManager(1, []string{"https://a.example"}, cfg, mockClientFactory(false), zerolog.Nop())
	require.NoError(t, manager.Start(context.Background()))
	endpoint := manager.endpoints[0]

	manager.ReportOutcome(endpoint, true, 10*time.Millisecond, nil)
	manager.ReportOutcome(endpoint, false, 0, assert.AnError)
	// Success rate still exactly 0.5, not below the demotion bar.
	assert.Equal(t, StateHealthy, endpoint.State())

	manager.ReportOutcome(endpoint, false, 0, assert.AnError)
	assert.Equal(t, StateDegraded, endpoint.State())

	manager.ReportOutcome(endpoint, false, 0, assert.AnError)
	assert.Equal(t, StateExcluded, endpoint.State())

	// Recovery path: successes promote a degraded endpoint once the
	// success rate clears the bar.
	endpoint.SetState(StateDegraded)
	for i := 0; i < 15; i++ {
		manager.ReportOutcome(endpoint, true, 10*time.Millisecond, nil)
	}
	assert.Equal(t, StateHealthy, endpoint.State())
}
