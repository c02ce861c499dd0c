package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360/blinkrelay/errors"
)

// Config is the complete relay configuration.
type Config struct {
	Serial          SerialConfig   `json:"serial"`
	Debounce        DebounceConfig `json:"debounce"`
	Relay           RelayConfig    `json:"relay"`
	Server          ServerConfig   `json:"server"`
	Metrics         MetricsConfig  `json:"metrics"`
	NATS            NATSConfig     `json:"nats"`
	Advisory        AdvisoryConfig `json:"advisory"`
	ShutdownTimeout time.Duration  `json:"shutdown_timeout"`
}

// SerialConfig selects the sensor device.
type SerialConfig struct {
	Device    string          `json:"device"`
	BaudRate  int             `json:"baud_rate"`
	Reconnect ReconnectConfig `json:"reconnect"`
}

// ReconnectConfig bounds serial reopen attempts. MaxAttempts 0 disables it.
type ReconnectConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// DebounceConfig sets the duplicate-trigger window.
type DebounceConfig struct {
	Window time.Duration `json:"window"`
}

// RelayConfig toggles raw sample forwarding.
type RelayConfig struct {
	ForwardRaw bool `json:"forward_raw"`
}

// ServerConfig is the subscriber websocket endpoint.
type ServerConfig struct {
	Port         int           `json:"port"`
	Path         string        `json:"path"`
	QueueSize    int           `json:"queue_size"`
	WriteTimeout time.Duration `json:"write_timeout"`
	PingInterval time.Duration `json:"ping_interval"`
	PongWait     time.Duration `json:"pong_wait"`
}

// MetricsConfig is the operational HTTP endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// NATSConfig enables the NATS mirror when URL is set. The remaining fields
// tune the client connection.
type NATSConfig struct {
	URL           string        `json:"url"`
	SubjectPrefix string        `json:"subject_prefix"`
	Token         string        `json:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait"`
	PingInterval  time.Duration `json:"ping_interval"`
	DialTimeout   time.Duration `json:"dial_timeout"`
	DrainTimeout  time.Duration `json:"drain_timeout"`
	MaxBackoff    time.Duration `json:"max_backoff"`

	// CircuitThreshold is how many failed connects open the circuit breaker.
	CircuitThreshold int32 `json:"circuit_threshold"`
}

// AdvisoryConfig points at the scanning-speed advisory service.
type AdvisoryConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Device:   "/dev/ttyUSB0",
			BaudRate: 115200,
			Reconnect: ReconnectConfig{
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
			},
		},
		Debounce: DebounceConfig{Window: 350 * time.Millisecond},
		Server: ServerConfig{
			Port:         8080,
			Path:         "/",
			QueueSize:    64,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		NATS: NATSConfig{
			SubjectPrefix: "blinkrelay",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			PingInterval:  30 * time.Second,
			DialTimeout:   5 * time.Second,
			DrainTimeout:  5 * time.Second,
			MaxBackoff:    time.Minute,

			CircuitThreshold: 5,
		},
		Advisory: AdvisoryConfig{
			Timeout: 15 * time.Second,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

var validBaudRates = map[int]bool{
	300: true, 600: true, 1200: true, 2400: true, 4800: true, 9600: true,
	14400: true, 19200: true, 38400: true, 57600: true, 115200: true,
	230400: true, 250000: true, 460800: true, 500000: true, 921600: true,
	1000000: true, 2000000: true,
}

// Validate checks every field. All failures are fatal.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...))
	}

	if strings.TrimSpace(c.Serial.Device) == "" {
		add("serial.device is empty")
	}
	if !validBaudRates[c.Serial.BaudRate] {
		add("serial.baud_rate %d is not a standard rate", c.Serial.BaudRate)
	}
	if c.Serial.Reconnect.MaxAttempts < 0 {
		add("serial.reconnect.max_attempts must be >= 0")
	}
	if c.Serial.Reconnect.MaxAttempts > 0 && c.Serial.Reconnect.MaxDelay < c.Serial.Reconnect.InitialDelay {
		add("serial.reconnect.max_delay must be >= initial_delay")
	}
	if c.Debounce.Window <= 0 {
		add("debounce.window must be positive, got %v", c.Debounce.Window)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		add("server.path %q must start with /", c.Server.Path)
	}
	if c.Server.QueueSize < 1 {
		add("server.queue_size must be >= 1")
	}
	if c.Server.WriteTimeout <= 0 {
		add("server.write_timeout must be positive")
	}
	if c.Server.PingInterval > 0 && c.Server.PingInterval >= c.Server.PongWait {
		add("server.ping_interval %v must be shorter than pong_wait %v", c.Server.PingInterval, c.Server.PongWait)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		add("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Port != 0 && c.Metrics.Port == c.Server.Port {
		add("metrics.port and server.port are both %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path %q must start with /", c.Metrics.Path)
	}
	if c.NATS.URL != "" && !isValidSubjectPrefix(c.NATS.SubjectPrefix) {
		add("nats.subject_prefix %q is not a valid subject", c.NATS.SubjectPrefix)
	}
	if c.NATS.MaxReconnects < -1 {
		add("nats.max_reconnects must be >= -1")
	}
	if c.NATS.CircuitThreshold < 0 {
		add("nats.circuit_threshold must be >= 0")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"reconnect_wait", c.NATS.ReconnectWait},
		{"ping_interval", c.NATS.PingInterval},
		{"dial_timeout", c.NATS.DialTimeout},
		{"drain_timeout", c.NATS.DrainTimeout},
		{"max_backoff", c.NATS.MaxBackoff},
	} {
		if d.value < 0 {
			add("nats.%s must be >= 0", d.name)
		}
	}
	if c.Advisory.Timeout < 0 {
		add("advisory.timeout must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		add("shutdown_timeout must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.WrapFatal(errors.Join(errs...), "Config", "Validate", "validate configuration")
}

// isValidSubjectPrefix accepts dot-separated tokens without wildcards or
// whitespace.
func isValidSubjectPrefix(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" || strings.ContainsAny(part, " \t*>") {
			return false
		}
	}
	return true
}

// LogAttrs returns the settings worth logging at startup as slog key/value
// pairs.
func (c *Config) LogAttrs() []any {
	return []any{
		"serial_device", c.Serial.Device,
		"baud_rate", c.Serial.BaudRate,
		"debounce_window", c.Debounce.Window.String(),
		"forward_raw", c.Relay.ForwardRaw,
		"port", c.Server.Port,
		"metrics_port", c.Metrics.Port,
		"nats_enabled", c.NATS.URL != "",
	}
}
