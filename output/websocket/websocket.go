// Package websocket serves live relay messages to subscribers over websockets.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/blinkrelay/component"
	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/message"
	"github.com/c360/blinkrelay/metric"
	"github.com/c360/blinkrelay/pkg/timestamp"
)

// Config holds configuration for the subscriber server
type Config struct {
	Port int    `json:"port"`
	Path string `json:"path"`
	HubConfig
}

// DefaultConfig returns the server defaults: port 8080, endpoint "/".
func DefaultConfig() Config {
	return Config{
		Port:      8080,
		Path:      "/",
		HubConfig: DefaultHubConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "Validate",
			fmt.Sprintf("invalid port %d (out of range 0-65535)", c.Port))
	}
	if !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "Validate", "path must start with /")
	}
	if c.QueueSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "Validate", "queue size must be at least 1")
	}
	if c.PingInterval > 0 && c.PongWait > 0 && c.PingInterval >= c.PongWait {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "Validate", "ping interval must be shorter than pong wait")
	}
	return nil
}

// Deps are the optional collaborators of an Output.
type Deps struct {
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Clock           timestamp.Clock
}

// Output is the subscriber server: an HTTP listener that upgrades requests on
// the configured path and hands each connection to the Hub.
type Output struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	hub      *Hub
	upgrader websocket.Upgrader

	lifecycleMu sync.Mutex
	mu          sync.RWMutex
	server      *http.Server
	listener    net.Listener
	running     bool
	startTime   time.Time
	lastErr     string
	serveDone   chan struct{}

	errors atomic.Int64
}

var (
	_ component.LifecycleComponent = (*Output)(nil)
)

// NewOutput creates the server and its hub.
func NewOutput(cfg Config, deps Deps) *Output {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "websocket-output")
	metrics := newMetrics(deps.MetricsRegistry)

	return &Output{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		hub:     NewHub(cfg.HubConfig, logger, metrics, deps.Clock),
		upgrader: websocket.Upgrader{
			// subscribers are unauthenticated browser pages served from anywhere
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Hub returns the session set.
func (w *Output) Hub() *Hub { return w.hub }

// Deliver queues an encoded relay message for every subscriber.
func (w *Output) Deliver(ctx context.Context, msgType message.Type, data []byte) error {
	return w.hub.Deliver(ctx, msgType, data)
}

// Meta returns the component metadata
func (w *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        "websocket-output",
		Type:        component.KindOutput,
		Description: fmt.Sprintf("Websocket subscriber server on :%d%s", w.cfg.Port, w.cfg.Path),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (w *Output) Health() component.HealthStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var uptime time.Duration
	if w.running {
		uptime = time.Since(w.startTime)
	}
	return component.HealthStatus{
		Healthy:    w.running,
		LastCheck:  time.Now(),
		ErrorCount: int(w.errors.Load()),
		LastError:  w.lastErr,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics
func (w *Output) DataFlow() component.FlowMetrics {
	w.mu.RLock()
	start := w.startTime
	w.mu.RUnlock()

	stats := w.hub.Stats()
	now := time.Now()

	var errorRate float64
	if stats.MessagesSent > 0 {
		errorRate = float64(w.errors.Load()) / float64(stats.MessagesSent)
	}
	return component.FlowMetrics{
		MessagesPerSecond: component.Rate(stats.MessagesSent, start, now),
		BytesPerSecond:    component.Rate(stats.BytesSent, start, now),
		ErrorRate:         errorRate,
		LastActivity:      timestamp.FromUnixMs(stats.LastActivity),
	}
}

// Initialize validates the configuration
func (w *Output) Initialize() error {
	return w.cfg.Validate()
}

// Start binds the listen address and begins accepting subscribers. A bind
// failure is fatal for the relay and is returned as such.
func (w *Output) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Output", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Output", "Start", "context already cancelled")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", w.cfg.Port))
	if err != nil {
		w.lastErr = err.Error()
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("bind").Inc()
		}
		return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrBindFailed, err), "Output", "Start",
			fmt.Sprintf("listen on port %d", w.cfg.Port))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)

	w.listener = ln
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.serveDone = make(chan struct{})
	w.running = true
	w.startTime = time.Now()
	w.lastErr = ""

	go w.runServer(w.server, ln, w.serveDone)
	if w.metrics != nil {
		go w.trackUptime(ctx, w.serveDone)
	}

	w.logger.Info("Subscriber server listening", "addr", ln.Addr().String(), "path", w.cfg.Path)
	return nil
}

func (w *Output) runServer(server *http.Server, ln net.Listener, done chan struct{}) {
	defer close(done)

	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		w.errors.Add(1)
		w.mu.Lock()
		w.running = false
		w.lastErr = err.Error()
		w.mu.Unlock()
		w.logger.Error("Subscriber server failed", "error", err)
	}
}

func (w *Output) trackUptime(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.RLock()
			start, running := w.startTime, w.running
			w.mu.RUnlock()
			if running {
				w.metrics.serverUptimeSeconds.Set(time.Since(start).Seconds())
			}
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

// Stop closes the listener and every session.
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	if !w.running && w.server == nil {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	server, done := w.server, w.serveDone
	w.server, w.listener = nil, nil
	w.mu.Unlock()

	var shutdownErr error
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			shutdownErr = errors.WrapTransient(err, "Output", "Stop", "shut down HTTP server")
			w.logger.Warn("HTTP server shutdown error", "error", err)
		}
	}

	// hijacked websocket connections are not tracked by Shutdown
	w.hub.Close(timeout)

	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			w.logger.Warn("Subscriber server did not exit within timeout")
		}
	}
	return shutdownErr
}

// Addr returns the bound listen address, or "" when not running.
func (w *Output) Addr() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

func (w *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		w.errors.Add(1)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("connection_upgrade").Inc()
		}
		w.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if _, err := w.hub.Join(conn, r.RemoteAddr); err != nil {
		w.errors.Add(1)
		if w.metrics != nil {
			w.metrics.errorsTotal.WithLabelValues("join").Inc()
		}
		w.logger.Debug("Subscriber rejected", "remote", r.RemoteAddr, "error", err)
	}
}
