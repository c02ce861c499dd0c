package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/blinkrelay/component"
	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/message"
	"github.com/c360/blinkrelay/metric"
)

func startOutput(t *testing.T, cfg Config) *Output {
	t.Helper()
	out := NewOutput(cfg, Deps{MetricsRegistry: metric.NewMetricsRegistry("test")})
	require.NoError(t, out.Initialize())
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() { _ = out.Stop(time.Second) })
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 0
	return cfg
}

func dial(t *testing.T, out *Output) *websocket.Conn {
	t.Helper()
	_, port, err := net.SplitHostPort(out.Addr())
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%s/", port), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"negative port", func(c *Config) { c.Port = -1 }},
		{"relative path", func(c *Config) { c.Path = "ws" }},
		{"empty queue", func(c *Config) { c.QueueSize = 0 }},
		{"ping after pong", func(c *Config) { c.PingInterval = time.Minute; c.PongWait = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestOutput_GreetsThenRelays(t *testing.T) {
	out := startOutput(t, testConfig())
	assert.True(t, out.Health().Healthy)

	conn := dial(t, out)
	hello := readJSON(t, conn)
	assert.Equal(t, "hello", hello["type"])
	assert.Greater(t, hello["time"].(float64), 0.0)

	data, err := message.Encode(message.NewBlink(1, 1700000000350, nil, 0.91))
	require.NoError(t, err)
	require.NoError(t, out.Deliver(context.Background(), message.TypeBlink, data))

	blink := readJSON(t, conn)
	assert.Equal(t, "blink", blink["type"])
	assert.Equal(t, 1.0, blink["seq"])
	assert.Nil(t, blink["t_arduino"])
	assert.Contains(t, blink, "t_arduino")

	assert.Equal(t, 1, out.Hub().Count())
	require.Eventually(t, func() bool { return out.DataFlow().MessagesPerSecond > 0 }, time.Second, 10*time.Millisecond)
}

func TestOutput_InboundFramesIgnored(t *testing.T) {
	out := startOutput(t, testConfig())
	conn := dial(t, out)
	readJSON(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ack"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))

	_, err := out.Hub().Broadcast(message.NewBlink(1, 1700000000350, nil, 0.5))
	require.NoError(t, err)
	assert.Equal(t, "blink", readJSON(t, conn)["type"])
	assert.Equal(t, 1, out.Hub().Count())
}

func TestOutput_ClientDisconnectIsIsolated(t *testing.T) {
	out := startOutput(t, testConfig())
	a := dial(t, out)
	b := dial(t, out)
	readJSON(t, a)
	readJSON(t, b)
	require.Eventually(t, func() bool { return out.Hub().Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return out.Hub().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := out.Hub().Broadcast(message.NewBlink(7, 1700000000350, nil, 0.5))
	require.NoError(t, err)
	assert.Equal(t, 7.0, readJSON(t, b)["seq"])
}

func TestOutput_BindFailureIsFatal(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	out := NewOutput(cfg, Deps{})
	require.NoError(t, out.Initialize())
	err = out.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrBindFailed)
	assert.False(t, out.Health().Healthy)
	assert.NotEmpty(t, out.Health().LastError)
}

func TestOutput_StopClosesSubscribers(t *testing.T) {
	out := startOutput(t, testConfig())
	conn := dial(t, out)
	readJSON(t, conn)

	require.NoError(t, out.Stop(time.Second))
	assert.False(t, out.Health().Healthy)
	assert.Equal(t, "", out.Addr())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// stopping twice is harmless
	assert.NoError(t, out.Stop(time.Second))
}

func TestOutput_StartWithCancelledContext(t *testing.T) {
	out := NewOutput(testConfig(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, out.Start(ctx))
}

func TestOutput_Meta(t *testing.T) {
	out := NewOutput(DefaultConfig(), Deps{})
	meta := out.Meta()
	assert.Equal(t, "websocket-output", meta.Name)
	assert.Equal(t, component.KindOutput, meta.Type)
	assert.Contains(t, meta.Description, ":8080/")
}
