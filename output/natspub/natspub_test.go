package natspub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/message"
	"github.com/c360/blinkrelay/metric"
	"github.com/c360/blinkrelay/natsclient"
	"github.com/c360/blinkrelay/pkg/retry"
)

type published struct {
	subject string
	data    string
}

type fakeConn struct {
	mu         sync.Mutex
	connectErr error
	publishErr error
	msgs       []published
	closed     bool
}

func (f *fakeConn) ConnectWithRetry(_ context.Context, _ retry.Config) error {
	return f.connectErr
}

func (f *fakeConn) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, published{subject: subject, data: string(data)})
	return nil
}

func (f *fakeConn) IsHealthy() bool {
	return f.connectErr == nil
}

func (f *fakeConn) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:4222"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing url", func(c *Config) { c.URL = "" }, true},
		{"empty prefix", func(c *Config) { c.SubjectPrefix = "" }, true},
		{"wildcard prefix", func(c *Config) { c.SubjectPrefix = "relay.*" }, true},
		{"trailing dot", func(c *Config) { c.SubjectPrefix = "relay." }, true},
		{"dotted prefix", func(c *Config) { c.SubjectPrefix = "lab.eeg" }, false},
		{"no reconnects", func(c *Config) { c.MaxReconnects = 0 }, false},
		{"bad reconnects", func(c *Config) { c.MaxReconnects = -2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsFatal(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOutput_PublishesByType(t *testing.T) {
	conn := &fakeConn{}
	registry := metric.NewMetricsRegistry("test")
	out, err := NewOutput(testConfig(), Deps{Conn: conn, MetricsRegistry: registry})
	require.NoError(t, err)

	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))
	require.True(t, out.Enabled())

	require.NoError(t, out.Deliver(context.Background(), message.TypeBlink, []byte(`{"type":"blink","seq":1}`)))
	require.NoError(t, out.Deliver(context.Background(), message.TypeSample, []byte(`{"type":"sample"}`)))

	require.Len(t, conn.msgs, 2)
	assert.Equal(t, "blinkrelay.blink", conn.msgs[0].subject)
	assert.Equal(t, `{"type":"blink","seq":1}`, conn.msgs[0].data)
	assert.Equal(t, "blinkrelay.sample", conn.msgs[1].subject)

	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.published.WithLabelValues("blink")))
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.enabled))
	assert.True(t, out.Health().Healthy)

	require.NoError(t, out.Stop(time.Second))
	assert.True(t, conn.closed)
	assert.False(t, out.Enabled())
}

func TestOutput_ConnectFailureDisablesMirror(t *testing.T) {
	conn := &fakeConn{connectErr: fmt.Errorf("connection refused")}
	out, err := NewOutput(testConfig(), Deps{Conn: conn})
	require.NoError(t, err)

	require.NoError(t, out.Start(context.Background()), "connect failure is not fatal")
	assert.False(t, out.Enabled())
	assert.False(t, out.Health().Healthy)
	assert.Contains(t, out.Health().LastError, "connection refused")

	assert.NoError(t, out.Deliver(context.Background(), message.TypeBlink, []byte(`{}`)))
	assert.Empty(t, conn.msgs)
	assert.NoError(t, out.Stop(time.Second))
	assert.False(t, conn.closed)
}

func TestOutput_PublishFailureIsReported(t *testing.T) {
	conn := &fakeConn{}
	out, err := NewOutput(testConfig(), Deps{Conn: conn})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))

	conn.publishErr = fmt.Errorf("slow consumer")
	err = out.Deliver(context.Background(), message.TypeBlink, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "natspub-output.Deliver")
	assert.Equal(t, 1, out.Health().ErrorCount)
	assert.Equal(t, 1.0, out.DataFlow().ErrorRate)
}

func TestOutput_DefaultConnIsNATSClient(t *testing.T) {
	cfg := testConfig()
	cfg.Token = "s3cret"
	out, err := NewOutput(cfg, Deps{MetricsRegistry: metric.NewMetricsRegistry("test")})
	require.NoError(t, err)

	client, ok := out.conn.(*natsclient.Client)
	require.True(t, ok)
	assert.Equal(t, cfg.URL, client.URL())
	assert.Equal(t, -1, client.Settings().MaxReconnects)
	assert.Equal(t, "natspub-output", out.Meta().Name)

	out.connectionChanged(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.connected))
	out.connectionChanged(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(out.metrics.connected))
}

func TestOutput_ClientSettingsFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReconnects = 10
	cfg.ReconnectWait = 3 * time.Second
	cfg.PingInterval = 20 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.DrainTimeout = 4 * time.Second
	cfg.MaxBackoff = 30 * time.Second
	cfg.CircuitThreshold = 2

	out, err := NewOutput(cfg, Deps{})
	require.NoError(t, err)
	client, ok := out.conn.(*natsclient.Client)
	require.True(t, ok)

	assert.Equal(t, natsclient.Settings{
		MaxReconnects: 10,
		ReconnectWait: 3 * time.Second,
		PingInterval:  20 * time.Second,
		Timeout:       2 * time.Second,
		DrainTimeout:  4 * time.Second,
		MaxBackoff:    30 * time.Second,

		CircuitThreshold: 2,
	}, client.Settings())
}

func TestNewOutput_InvalidConfig(t *testing.T) {
	_, err := NewOutput(Config{SubjectPrefix: "x"}, Deps{})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}
