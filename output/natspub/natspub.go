// Package natspub mirrors relay messages onto NATS subjects.
package natspub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/blinkrelay/component"
	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/message"
	"github.com/c360/blinkrelay/metric"
	"github.com/c360/blinkrelay/natsclient"
	"github.com/c360/blinkrelay/pkg/retry"
)

// Conn is the part of natsclient.Client the mirror uses.
type Conn interface {
	ConnectWithRetry(ctx context.Context, cfg retry.Config) error
	Publish(ctx context.Context, subject string, data []byte) error
	IsHealthy() bool
	Close(ctx context.Context) error
}

var _ Conn = (*natsclient.Client)(nil)

// Config holds mirror settings. Zero durations keep the client defaults.
type Config struct {
	URL           string        `json:"url"`
	SubjectPrefix string        `json:"subject_prefix"`
	Token         string        `json:"-"`
	MaxReconnects int           `json:"max_reconnects"` // -1 reconnects forever
	ReconnectWait time.Duration `json:"reconnect_wait"`
	PingInterval  time.Duration `json:"ping_interval"`
	DialTimeout   time.Duration `json:"dial_timeout"`
	DrainTimeout  time.Duration `json:"drain_timeout"`
	MaxBackoff    time.Duration `json:"max_backoff"`
	ConnectRetry  retry.Config  `json:"-"`
	CloseTimeout  time.Duration `json:"-"`

	// consecutive connect failures that open the circuit, 0 keeps the default
	CircuitThreshold int32 `json:"circuit_threshold"`
}

// DefaultConfig returns the "blinkrelay" prefix, unlimited reconnects and
// quick startup retries.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "blinkrelay",
		MaxReconnects: -1,
		ConnectRetry:  retry.Quick(),
		CloseTimeout:  5 * time.Second,
	}
}

// clientOptions maps the config onto natsclient options.
func (c Config) clientOptions() []natsclient.ClientOption {
	opts := []natsclient.ClientOption{natsclient.WithMaxReconnects(c.MaxReconnects)}
	if c.Token != "" {
		opts = append(opts, natsclient.WithToken(c.Token))
	}
	if c.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(c.ReconnectWait))
	}
	if c.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(c.PingInterval))
	}
	if c.DialTimeout > 0 {
		opts = append(opts, natsclient.WithTimeout(c.DialTimeout))
	}
	if c.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(c.DrainTimeout))
	}
	if c.MaxBackoff > 0 {
		opts = append(opts, natsclient.WithMaxBackoff(c.MaxBackoff))
	}
	if c.CircuitThreshold > 0 {
		opts = append(opts, natsclient.WithCircuitBreakerThreshold(c.CircuitThreshold))
	}
	return opts
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "natspub-output", "Validate", "url check")
	}
	prefix := strings.TrimSpace(c.SubjectPrefix)
	if prefix == "" || strings.ContainsAny(prefix, " *>") || strings.HasSuffix(prefix, ".") {
		return errors.WrapFatal(fmt.Errorf("%w: subject prefix %q", errors.ErrInvalidConfig, c.SubjectPrefix),
			"natspub-output", "Validate", "subject prefix check")
	}
	if c.MaxReconnects < -1 {
		return errors.WrapFatal(fmt.Errorf("%w: max reconnects %d", errors.ErrInvalidConfig, c.MaxReconnects),
			"natspub-output", "Validate", "reconnect check")
	}
	return nil
}

// Subject returns the subject a message of type t is published on.
func (c Config) Subject(t message.Type) string {
	return c.SubjectPrefix + "." + string(t)
}

// Deps holds runtime dependencies. A nil Conn is built from Config.URL.
type Deps struct {
	Conn            Conn
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

type metrics struct {
	published     *prometheus.CounterVec
	publishErrors prometheus.Counter
	enabled       prometheus.Gauge
	connected     prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry) (*metrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "published_total",
			Help:      "Messages mirrored to NATS, by type",
		}, []string{"type"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "publish_errors_total",
			Help:      "Failed NATS publishes",
		}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "mirror_enabled",
			Help:      "1 when the NATS mirror connected at startup",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "1 while the NATS connection is up",
		}),
	}
	if err := registry.RegisterCounterVec("natspub", "published", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("natspub", "publish_errors", m.publishErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("natspub", "enabled", m.enabled); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("natspub", "connected", m.connected); err != nil {
		return nil, err
	}
	return m, nil
}

// Output publishes every relay message to <prefix>.<type>. If NATS cannot be
// reached at Start the mirror stays disabled and Deliver is a no-op.
type Output struct {
	cfg     Config
	conn    Conn
	logger  *slog.Logger
	metrics *metrics

	mu        sync.Mutex
	lastErr   string
	startTime time.Time

	enabled   atomic.Bool
	published atomic.Int64
	bytes     atomic.Int64
	failures  atomic.Int64
	last      atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Output)(nil)

// NewOutput creates the mirror.
func NewOutput(cfg Config, deps Deps) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "natspub-output", "NewOutput", "register metrics")
	}

	o := &Output{
		cfg:     cfg,
		conn:    deps.Conn,
		logger:  logger.With("component", "natspub-output"),
		metrics: m,
	}
	o.last.Store(time.Time{})

	if o.conn == nil {
		opts := append([]natsclient.ClientOption{
			natsclient.WithName("blinkrelay"),
			natsclient.WithLogger(logger),
			natsclient.WithHealthChangeCallback(o.connectionChanged),
		}, cfg.clientOptions()...)
		client, err := natsclient.NewClient(cfg.URL, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "natspub-output", "NewOutput", "create client")
		}
		o.conn = client
	}
	return o, nil
}

// connectionChanged tracks connection state in the connected gauge.
func (o *Output) connectionChanged(up bool) {
	if o.metrics == nil {
		return
	}
	if up {
		o.metrics.connected.Set(1)
	} else {
		o.metrics.connected.Set(0)
	}
}

// Meta returns component metadata
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        "natspub-output",
		Type:        component.KindOutput,
		Description: fmt.Sprintf("NATS mirror publishing to %s.<type>", o.cfg.SubjectPrefix),
		Version:     "1.0.0",
	}
}

// Health reports unhealthy when the mirror is disabled or disconnected.
func (o *Output) Health() component.HealthStatus {
	o.mu.Lock()
	lastErr := o.lastErr
	start := o.startTime
	o.mu.Unlock()

	var uptime time.Duration
	if !start.IsZero() {
		uptime = time.Since(start)
	}
	return component.HealthStatus{
		Healthy:    o.enabled.Load() && o.conn.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(o.failures.Load()),
		LastError:  lastErr,
		Uptime:     uptime,
	}
}

// DataFlow returns publish rates since Start.
func (o *Output) DataFlow() component.FlowMetrics {
	o.mu.Lock()
	start := o.startTime
	o.mu.Unlock()

	now := time.Now()
	published := o.published.Load()
	failures := o.failures.Load()
	last, _ := o.last.Load().(time.Time)

	var errorRate float64
	if total := published + failures; total > 0 {
		errorRate = float64(failures) / float64(total)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(published, start, now),
		BytesPerSecond:    component.Rate(o.bytes.Load(), start, now),
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}

// Initialize validates the configuration.
func (o *Output) Initialize() error {
	return o.cfg.Validate()
}

// Start connects to NATS. Failure disables the mirror and is not returned.
func (o *Output) Start(ctx context.Context) error {
	o.mu.Lock()
	o.startTime = time.Now()
	o.mu.Unlock()

	if err := o.conn.ConnectWithRetry(ctx, o.cfg.ConnectRetry); err != nil {
		o.setLastErr(err)
		o.logger.Warn("NATS unavailable, mirror disabled", "url", o.cfg.URL, "error", err)
		return nil
	}

	o.enabled.Store(true)
	if o.metrics != nil {
		o.metrics.enabled.Set(1)
	}
	o.logger.Info("NATS mirror enabled", "url", o.cfg.URL, "subject_prefix", o.cfg.SubjectPrefix)
	return nil
}

// Stop closes the connection.
func (o *Output) Stop(timeout time.Duration) error {
	if !o.enabled.Swap(false) {
		return nil
	}
	if o.metrics != nil {
		o.metrics.enabled.Set(0)
	}
	if timeout <= 0 {
		timeout = o.cfg.CloseTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return o.conn.Close(ctx)
}

// Deliver publishes one encoded message. It is a no-op while the mirror is
// disabled.
func (o *Output) Deliver(ctx context.Context, msgType message.Type, data []byte) error {
	if !o.enabled.Load() {
		return nil
	}

	if err := o.conn.Publish(ctx, o.cfg.Subject(msgType), data); err != nil {
		o.failures.Add(1)
		o.setLastErr(err)
		if o.metrics != nil {
			o.metrics.publishErrors.Inc()
		}
		return errors.Wrap(err, "natspub-output", "Deliver", "publish")
	}

	o.published.Add(1)
	o.bytes.Add(int64(len(data)))
	o.last.Store(time.Now())
	if o.metrics != nil {
		o.metrics.published.WithLabelValues(string(msgType)).Inc()
	}
	return nil
}

// Enabled reports whether the mirror connected at Start.
func (o *Output) Enabled() bool {
	return o.enabled.Load()
}

func (o *Output) setLastErr(err error) {
	o.mu.Lock()
	o.lastErr = err.Error()
	o.mu.Unlock()
}
