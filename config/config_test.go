package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/blinkrelay/errors"
)

// clearEnv blanks every variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERIAL_DEVICE", "SERIAL_BAUD", "SERIAL_RECONNECT_ATTEMPTS", "PORT", "METRICS_PORT",
		"NATS_URL", "NATS_TOKEN", "ADVISORY_URL", "DEBOUNCE_WINDOW", "SEND_RAW",
	} {
		t.Setenv(EnvPrefix+"_"+key, "")
	}
	t.Setenv("SEND_RAW", "")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Device)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 0, cfg.Serial.Reconnect.MaxAttempts)
	assert.Equal(t, 350*time.Millisecond, cfg.Debounce.Window)
	assert.False(t, cfg.Relay.ForwardRaw)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/", cfg.Server.Path)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "blinkrelay", cfg.NATS.SubjectPrefix)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NATS.DrainTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"empty device", func(c *Config) { c.Serial.Device = "" }, "serial.device"},
		{"odd baud", func(c *Config) { c.Serial.BaudRate = 12345 }, "baud_rate"},
		{"zero window", func(c *Config) { c.Debounce.Window = 0 }, "debounce.window"},
		{"negative window", func(c *Config) { c.Debounce.Window = -time.Millisecond }, "debounce.window"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative port", func(c *Config) { c.Server.Port = -1 }, "server.port"},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }, "server.path"},
		{"queue size", func(c *Config) { c.Server.QueueSize = 0 }, "queue_size"},
		{"ping after pong", func(c *Config) { c.Server.PingInterval = time.Minute }, "ping_interval"},
		{"port clash", func(c *Config) { c.Metrics.Port = 8080 }, "both 8080"},
		{"bad subject", func(c *Config) { c.NATS.URL = "nats://x"; c.NATS.SubjectPrefix = "a.*" }, "subject_prefix"},
		{"reconnect delays", func(c *Config) {
			c.Serial.Reconnect.MaxAttempts = 3
			c.Serial.Reconnect.MaxDelay = time.Millisecond
		}, "max_delay"},
		{"shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"nats reconnects", func(c *Config) { c.NATS.MaxReconnects = -5 }, "nats.max_reconnects"},
		{"nats drain", func(c *Config) { c.NATS.DrainTimeout = -time.Second }, "nats.drain_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Serial.BaudRate = 1
	cfg.Debounce.Window = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baud_rate")
	assert.Contains(t, err.Error(), "debounce.window")
}

func TestLoader_JSONLayers(t *testing.T) {
	clearEnv(t)
	base := writeFile(t, "base.json", `{
		"serial": {"device": "/dev/ttyACM0", "reconnect": {"max_attempts": 5, "max_delay": "30s"}},
		"debounce": {"window": "400ms"},
		"server": {"port": 9000},
		"nats": {"max_reconnects": 3, "reconnect_wait": "750ms", "drain_timeout": "2s"}
	}`)
	override := writeFile(t, "override.json", `{
		"server": {"queue_size": 16},
		"relay": {"forward_raw": true}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device)
	assert.Equal(t, 115200, cfg.Serial.BaudRate, "unset keys keep defaults")
	assert.Equal(t, 5, cfg.Serial.Reconnect.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Serial.Reconnect.MaxDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Serial.Reconnect.InitialDelay)
	assert.Equal(t, 400*time.Millisecond, cfg.Debounce.Window)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Server.QueueSize)
	assert.Equal(t, "/", cfg.Server.Path)
	assert.True(t, cfg.Relay.ForwardRaw)
	assert.Equal(t, 3, cfg.NATS.MaxReconnects)
	assert.Equal(t, 750*time.Millisecond, cfg.NATS.ReconnectWait)
	assert.Equal(t, 2*time.Second, cfg.NATS.DrainTimeout)
	assert.Equal(t, 30*time.Second, cfg.NATS.PingInterval, "unset keys keep defaults")
}

func TestLoader_BadFiles(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }},
		{"not json extension", func(t *testing.T) string { return writeFile(t, "cfg.yaml", `{}`) }},
		{"syntax", func(t *testing.T) string { return writeFile(t, "bad.json", `{"serial": `) }},
		{"bad duration", func(t *testing.T) string { return writeFile(t, "d.json", `{"debounce": {"window": "soon"}}`) }},
		{"too deep", func(t *testing.T) string {
			return writeFile(t, "deep.json", strings.Repeat(`{"a":`, 40)+"1"+strings.Repeat("}", 40))
		}},
		{"traversal", func(*testing.T) string { return "../../etc/blinkrelay.json" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader()
			loader.AddLayer(tt.path(t))
			_, err := loader.Load()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BLINKRELAY_SERIAL_DEVICE", "COM18")
	t.Setenv("BLINKRELAY_SERIAL_BAUD", "9600")
	t.Setenv("BLINKRELAY_SERIAL_RECONNECT_ATTEMPTS", "4")
	t.Setenv("BLINKRELAY_PORT", "8181")
	t.Setenv("BLINKRELAY_METRICS_PORT", "0")
	t.Setenv("BLINKRELAY_DEBOUNCE_WINDOW", "500")
	t.Setenv("BLINKRELAY_NATS_URL", "nats://broker:4222")
	t.Setenv("BLINKRELAY_NATS_TOKEN", "s3cret")
	t.Setenv("BLINKRELAY_ADVISORY_URL", "http://advisor:3400/speed")

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "COM18", cfg.Serial.Device)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 4, cfg.Serial.Reconnect.MaxAttempts)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Metrics.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce.Window)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "s3cret", cfg.NATS.Token)
	assert.Equal(t, "http://advisor:3400/speed", cfg.Advisory.URL)
}

func TestLoader_EnvBeatsFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("BLINKRELAY_PORT", "7000")
	path := writeFile(t, "cfg.json", `{"server": {"port": 9000}}`)

	loader := NewLoader()
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoader_SendRaw(t *testing.T) {
	tests := []struct {
		name     string
		legacy   string
		prefixed string
		expected bool
	}{
		{"unset", "", "", false},
		{"legacy on", "1", "", true},
		{"legacy other value", "true", "", false},
		{"prefixed true", "", "true", true},
		{"prefixed overrides legacy", "1", "false", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("SEND_RAW", tt.legacy)
			t.Setenv("BLINKRELAY_SEND_RAW", tt.prefixed)

			cfg, err := NewLoader().Load()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.Relay.ForwardRaw)
		})
	}
}

func TestLoader_BadEnv(t *testing.T) {
	tests := []struct{ key, value string }{
		{"BLINKRELAY_PORT", "eighty"},
		{"BLINKRELAY_SERIAL_BAUD", "fast"},
		{"BLINKRELAY_DEBOUNCE_WINDOW", "a while"},
		{"BLINKRELAY_SEND_RAW", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := NewLoader().Load()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
			assert.Contains(t, err.Error(), tt.value)
		})
	}
}

func TestLoader_DotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set
	require.NoError(t, os.Unsetenv("BLINKRELAY_SERIAL_DEVICE"))
	path := writeFile(t, ".env", "BLINKRELAY_SERIAL_DEVICE=/dev/ttyS7\nBLINKRELAY_PORT=8282\n")
	t.Cleanup(func() { _ = os.Unsetenv("BLINKRELAY_SERIAL_DEVICE") })

	loader := NewLoader()
	loader.AddDotEnv(path)
	loader.AddDotEnv(filepath.Join(t.TempDir(), "missing.env"))
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS7", cfg.Serial.Device)
	assert.Equal(t, 8080, cfg.Server.Port, "an already set variable, even empty, wins over .env")
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in       string
		expected time.Duration
		wantErr  bool
	}{
		{"350", 350 * time.Millisecond, false},
		{"350ms", 350 * time.Millisecond, false},
		{"1s", time.Second, false},
		{" 200 ", 200 * time.Millisecond, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		d, err := ParseWindow(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expected, d)
	}
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "}{]["}`)))
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "\"{"}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [}`+"]}")))
	assert.Error(t, validateJSONDepth([]byte(`{"a": {}`)))
}
