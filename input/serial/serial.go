package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goserial "go.bug.st/serial"

	"github.com/c360/blinkrelay/component"
	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/metric"
	"github.com/c360/blinkrelay/pkg/retry"
)

// Opener opens the device. Tests substitute an in-memory stream.
type Opener func(device string, baudRate int) (io.ReadCloser, error)

// OpenPort opens device at baudRate with 8N1 framing.
func OpenPort(device string, baudRate int) (io.ReadCloser, error) {
	port, err := goserial.Open(device, &goserial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		var pe *goserial.PortError
		if errors.As(err, &pe) {
			switch pe.Code() {
			case goserial.PortNotFound, goserial.PortBusy, goserial.PermissionDenied:
				return nil, fmt.Errorf("%w: %s: %v", errors.ErrDeviceUnavailable, device, err)
			case goserial.InvalidSpeed:
				return nil, retry.Permanent(fmt.Errorf("%w: baud rate %d: %v", errors.ErrInvalidConfig, baudRate, err))
			}
		}
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return port, nil
}

// ReconnectConfig bounds reopening after a read failure. MaxAttempts 0
// disables reconnect.
type ReconnectConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
}

// Config holds serial input settings.
type Config struct {
	Device     string          `json:"device"`
	BaudRate   int             `json:"baud_rate"`
	Reconnect  ReconnectConfig `json:"reconnect"`
	LineBuffer int             `json:"-"`
}

// DefaultConfig returns /dev/ttyUSB0 at 115200 baud, no reconnect.
func DefaultConfig() Config {
	return Config{
		Device:   "/dev/ttyUSB0",
		BaudRate: 115200,
		Reconnect: ReconnectConfig{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
		},
		LineBuffer: 256,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Device) == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "serial-input", "Validate", "device check")
	}
	if c.BaudRate <= 0 {
		return errors.WrapFatal(fmt.Errorf("%w: baud rate %d", errors.ErrInvalidConfig, c.BaudRate),
			"serial-input", "Validate", "baud rate check")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.WrapFatal(fmt.Errorf("%w: negative reconnect attempts", errors.ErrInvalidConfig),
			"serial-input", "Validate", "reconnect check")
	}
	return nil
}

func (c Config) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  c.Reconnect.MaxAttempts,
		InitialDelay: c.Reconnect.InitialDelay,
		MaxDelay:     c.Reconnect.MaxDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Deps holds runtime dependencies of the serial input.
type Deps struct {
	Opener          Opener
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Input reads newline-terminated records from a serial device and emits
// them, terminator stripped, on Lines. Line order is the device order.
type Input struct {
	cfg     Config
	open    Opener
	logger  *slog.Logger
	metrics *Metrics

	lines chan string

	mu       sync.Mutex
	port     io.ReadCloser
	shutdown chan struct{}
	done     chan struct{}
	lastErr  string

	running   atomic.Bool
	connected atomic.Bool
	stopping  atomic.Bool
	startTime time.Time

	linesRead    atomic.Int64
	bytesRead    atomic.Int64
	errorCount   atomic.Int64
	lastActivity atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Input)(nil)

// NewInput creates a serial input. Nothing is opened until Start.
func NewInput(cfg Config, deps Deps) (*Input, error) {
	opener := deps.Opener
	if opener == nil {
		opener = OpenPort
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LineBuffer <= 0 {
		cfg.LineBuffer = DefaultConfig().LineBuffer
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "serial-input", "NewInput", "register metrics")
	}

	in := &Input{
		cfg:     cfg,
		open:    opener,
		logger:  logger.With("component", "serial-input", "device", cfg.Device),
		metrics: metrics,
		lines:   make(chan string, cfg.LineBuffer),
	}
	in.lastActivity.Store(time.Time{})
	return in, nil
}

// Lines returns the record stream. It is closed once the input gives up on
// the device or is stopped.
func (in *Input) Lines() <-chan string {
	return in.lines
}

// Meta returns the component metadata
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        "serial-input",
		Type:        component.KindInput,
		Description: fmt.Sprintf("Serial line reader on %s at %d baud", in.cfg.Device, in.cfg.BaudRate),
		Version:     "1.0.0",
	}
}

// Health is healthy while the device is open.
func (in *Input) Health() component.HealthStatus {
	in.mu.Lock()
	lastErr := in.lastErr
	in.mu.Unlock()

	var uptime time.Duration
	if in.running.Load() {
		uptime = time.Since(in.startTime)
	}
	return component.HealthStatus{
		Healthy:    in.running.Load() && in.connected.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(in.errorCount.Load()),
		LastError:  lastErr,
		Uptime:     uptime,
	}
}

// DataFlow returns line and byte rates since Start.
func (in *Input) DataFlow() component.FlowMetrics {
	now := time.Now()
	lines := in.linesRead.Load()
	last, _ := in.lastActivity.Load().(time.Time)

	var errorRate float64
	if lines > 0 {
		errorRate = float64(in.errorCount.Load()) / float64(lines)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(lines, in.startTime, now),
		BytesPerSecond:    component.Rate(in.bytesRead.Load(), in.startTime, now),
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}

// Initialize validates the configuration.
func (in *Input) Initialize() error {
	return in.cfg.Validate()
}

// Start opens the device and begins reading. A device that cannot be opened
// is logged and leaves the input unhealthy; Start still returns nil so the
// rest of the relay keeps serving.
func (in *Input) Start(ctx context.Context) error {
	if in.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "serial-input", "Start", "state check")
	}
	if in.stopping.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "serial-input", "Start", "state check")
	}

	in.mu.Lock()
	in.shutdown = make(chan struct{})
	in.done = make(chan struct{})
	in.mu.Unlock()

	in.startTime = time.Now()
	in.running.Store(true)

	port, err := in.open(in.cfg.Device, in.cfg.BaudRate)
	if err != nil {
		in.recordOpenFailure(err)
		in.logger.Error("Cannot open serial device, no events will be produced",
			"baud_rate", in.cfg.BaudRate, "error", err)
		close(in.done)
		close(in.lines)
		return nil
	}

	in.attach(port)
	in.logger.Info("Serial device open", "baud_rate", in.cfg.BaudRate)

	go in.readLoop(ctx, port)
	return nil
}

// Stop closes the device and waits for the reader to exit.
func (in *Input) Stop(timeout time.Duration) error {
	if !in.running.Load() || !in.stopping.CompareAndSwap(false, true) {
		return nil
	}

	in.mu.Lock()
	close(in.shutdown)
	if in.port != nil {
		_ = in.port.Close()
	}
	done := in.done
	in.mu.Unlock()

	defer in.running.Store(false)

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"serial-input", "Stop", "wait for reader")
	}
}

func (in *Input) attach(port io.ReadCloser) {
	in.mu.Lock()
	in.port = port
	in.lastErr = ""
	in.mu.Unlock()
	in.connected.Store(true)
	in.metrics.setConnected(true)
}

func (in *Input) detach() {
	in.mu.Lock()
	if in.port != nil {
		_ = in.port.Close()
		in.port = nil
	}
	in.mu.Unlock()
	in.connected.Store(false)
	in.metrics.setConnected(false)
}

func (in *Input) recordOpenFailure(err error) {
	in.errorCount.Add(1)
	in.mu.Lock()
	in.lastErr = err.Error()
	in.mu.Unlock()
	if in.metrics != nil {
		in.metrics.openFailures.Inc()
	}
}

func (in *Input) recordReadError(err error) {
	in.errorCount.Add(1)
	in.mu.Lock()
	in.lastErr = err.Error()
	in.mu.Unlock()
	if in.metrics != nil {
		in.metrics.readErrors.Inc()
	}
}

func (in *Input) shuttingDown(ctx context.Context) bool {
	if in.stopping.Load() {
		return true
	}
	return ctx.Err() != nil
}

func (in *Input) readLoop(ctx context.Context, port io.ReadCloser) {
	defer close(in.done)
	defer close(in.lines)
	defer in.detach()

	for {
		err := in.drain(ctx, port)
		if in.shuttingDown(ctx) {
			return
		}

		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		in.recordReadError(err)
		in.logger.Error("Serial read failed", "error", err)
		in.detach()

		if in.cfg.Reconnect.MaxAttempts == 0 {
			return
		}

		port, err = in.reopen(ctx)
		if err != nil {
			if !in.shuttingDown(ctx) {
				in.logger.Error("Giving up on serial device", "error", err)
			}
			return
		}
		in.attach(port)
		if in.metrics != nil {
			in.metrics.reconnects.Inc()
		}
		in.logger.Info("Serial device reopened")

		// Stop may have run while the device was closed.
		if in.shuttingDown(ctx) {
			return
		}
	}
}

// drain emits lines until the stream ends or ctx is done. An unterminated
// tail at end of stream is dropped.
func (in *Input) drain(ctx context.Context, port io.Reader) error {
	reader := bufio.NewReader(port)
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		in.linesRead.Add(1)
		in.bytesRead.Add(int64(len(raw)))
		now := time.Now()
		in.lastActivity.Store(now)
		if in.metrics != nil {
			in.metrics.linesRead.Inc()
			in.metrics.bytesRead.Add(float64(len(raw)))
			in.metrics.lastActivity.Set(float64(now.Unix()))
		}

		select {
		case in.lines <- strings.TrimSuffix(raw, "\n"):
		case <-ctx.Done():
			return ctx.Err()
		case <-in.shutdown:
			return nil
		}
	}
}

func (in *Input) reopen(ctx context.Context) (io.ReadCloser, error) {
	attempt := 0
	return retry.DoWithResult(ctx, in.cfg.retryConfig(), func() (io.ReadCloser, error) {
		if in.stopping.Load() {
			return nil, retry.Permanent(errors.ErrShuttingDown)
		}
		attempt++
		port, err := in.open(in.cfg.Device, in.cfg.BaudRate)
		if err != nil {
			in.recordOpenFailure(err)
			in.logger.Warn("Serial reopen failed", "attempt", attempt, "error", err)
			return nil, err
		}
		return port, nil
	})
}
