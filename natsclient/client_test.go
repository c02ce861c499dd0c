package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/pkg/retry"
)

// nothing listens on port 1
const unreachableURL = "nats://127.0.0.1:1"

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
}

func TestNewClient_EmptyURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 20; i++ {
		for j := 0; j < 5; j++ {
			client.recordFailure()
		}
	}
	assert.Equal(t, time.Minute, client.Backoff())
}

func TestCircuitBreaker_HalfOpens(t *testing.T) {
	client, err := NewClient(unreachableURL, WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.backoff.Store(10 * time.Millisecond)
	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	assert.Eventually(t, func() bool {
		return client.Status() == StatusDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.status.String())
	}
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	const iterations = 100

	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.setStatus(StatusConnected)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = client.GetStatus()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.recordFailure()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.resetCircuit()
		}
	}()
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting, StatusCircuitOpen,
	}, client.Status())
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient(unreachableURL, WithTimeout(500*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(1), client.Failures())
}

func TestConnectWithRetry_StopsWhenCircuitOpens(t *testing.T) {
	client, err := NewClient(unreachableURL,
		WithTimeout(200*time.Millisecond),
		WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	cfg := retry.Config{MaxAttempts: 10, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	err = client.ConnectWithRetry(context.Background(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, retry.IsPermanent(err))
	assert.Equal(t, int32(2), client.Failures())
}

func TestConnect_CircuitOpenFailsFast(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)
	client.setStatus(StatusCircuitOpen)

	assert.ErrorIs(t, client.Connect(context.Background()), ErrCircuitOpen)
}

func TestPublish_NotConnected(t *testing.T) {
	client, err := NewClient(unreachableURL)
	require.NoError(t, err)

	err = client.Publish(context.Background(), "blinkrelay.blink", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient(unreachableURL, WithToken("tok"))
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.token)

	assert.ErrorIs(t, client.Connect(context.Background()), ErrClosed)
}

func TestConnectionOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithPingInterval(5*time.Second),
		WithName("blinkrelay"),
		WithToken("s3cret"),
		WithMaxBackoff(10*time.Millisecond),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, client.maxReconnects)
	assert.Equal(t, time.Second, client.reconnectWait)
	assert.Equal(t, 5*time.Second, client.pingInterval)
	assert.Equal(t, time.Minute, client.maxBackoff, "sub-second max backoff falls back to a minute")
	assert.Len(t, client.buildConnectionOptions(), 11)
}

func TestSettings(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, Settings{
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		PingInterval:  30 * time.Second,
		Timeout:       5 * time.Second,
		DrainTimeout:  5 * time.Second,
		MaxBackoff:    time.Minute,

		CircuitThreshold: 5,
	}, client.Settings())

	client, err = NewClient("nats://localhost:4222",
		WithTimeout(time.Second),
		WithDrainTimeout(3*time.Second),
		WithMaxBackoff(30*time.Second),
	)
	require.NoError(t, err)
	s := client.Settings()
	assert.Equal(t, time.Second, s.Timeout)
	assert.Equal(t, 3*time.Second, s.DrainTimeout)
	assert.Equal(t, 30*time.Second, s.MaxBackoff)
}

func TestHealthChangeCallback(t *testing.T) {
	changes := make(chan bool, 4)
	client, err := NewClient(unreachableURL, WithHealthChangeCallback(func(healthy bool) {
		changes <- healthy
	}))
	require.NoError(t, err)

	client.handleDisconnect(nil, nil)
	assert.False(t, <-changes)
	assert.Equal(t, StatusReconnecting, client.Status())

	client.handleReconnect(nil)
	assert.True(t, <-changes)
	assert.Equal(t, StatusConnected, client.Status())
	assert.EqualValues(t, 1, client.GetStatus().Reconnects)
}
