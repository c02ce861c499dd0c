package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/message"
	"github.com/c360/blinkrelay/pkg/timestamp"
)

// HubConfig tunes per-session delivery.
type HubConfig struct {
	QueueSize    int           // outbound frames buffered per session
	WriteTimeout time.Duration // deadline for one socket write
	PingInterval time.Duration // 0 disables pings
	PongWait     time.Duration // 0 disables the read deadline
}

// DefaultHubConfig returns the delivery defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		QueueSize:    64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// Hub is the set of live subscriber sessions. Broadcasts iterate a snapshot
// of the set, so joins and leaves during a broadcast never corrupt it.
type Hub struct {
	cfg     HubConfig
	logger  *slog.Logger
	metrics *Metrics
	clock   timestamp.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup

	messagesSent atomic.Int64
	bytesSent    atomic.Int64
	broadcasts   atomic.Int64
	dropped      atomic.Int64
	lastActivity atomic.Int64
}

// NewHub creates an empty hub. metrics and clock may be nil.
func NewHub(cfg HubConfig, logger *slog.Logger, metrics *Metrics, clock timestamp.Clock) *Hub {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if logger == nil {
		logger = slog.Default().With("component", "websocket-hub")
	}
	if clock == nil {
		clock = timestamp.System
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
		sessions: make(map[string]*Session),
	}
}

// Join registers conn as a new session. The greeting is queued before the
// session becomes visible to broadcasts, so it is always the first frame and
// no earlier event can reach the new subscriber.
func (h *Hub) Join(conn Conn, remote string) (*Session, error) {
	s := newSession(uuid.NewString(), remote, conn, h.cfg.QueueSize, h.clock())

	hello, err := message.Encode(message.NewHello(h.clock.NowMs()))
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "Hub", "Join", "encode greeting")
	}
	s.out <- hello
	s.state.Store(int32(SessionOpen))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.state.Store(int32(SessionClosed))
		_ = conn.Close()
		return nil, errors.WrapTransient(errors.ErrShuttingDown, "Hub", "Join", "register session")
	}
	h.sessions[s.id] = s
	count := len(h.sessions)
	h.wg.Add(2)
	h.mu.Unlock()

	go s.writeLoop(h)
	go s.readLoop(h)

	if h.metrics != nil {
		h.metrics.connectionTotal.Inc()
		h.metrics.clientsConnected.Set(float64(count))
	}
	h.logger.Info("Subscriber connected", "session_id", s.id, "remote", remote, "clients", count)
	return s, nil
}

// Leave ends a session. It is safe to call more than once and from any
// goroutine.
func (h *Hub) Leave(s *Session, reason string) {
	h.leave(s, reason, nil)
}

func (h *Hub) leave(s *Session, reason string, cause error) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosed))
		close(s.done)

		h.mu.Lock()
		delete(h.sessions, s.id)
		count := len(h.sessions)
		h.mu.Unlock()

		_ = s.conn.Close()

		if h.metrics != nil {
			h.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			h.metrics.clientsConnected.Set(float64(count))
		}

		attrs := []any{"session_id", s.id, "reason", reason, "clients", count, "sent", s.sent.Load(), "dropped", s.dropped.Load()}
		if cause != nil {
			attrs = append(attrs, "error", cause)
		}
		h.logger.Info("Subscriber disconnected", attrs...)
	})
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast encodes msg once and queues it for every open session.
func (h *Hub) Broadcast(msg message.Message) (int, error) {
	data, err := message.Encode(msg)
	if err != nil {
		return 0, err
	}
	return h.BroadcastBytes(msg.MessageType(), data), nil
}

// BroadcastBytes queues an encoded frame for every open session and returns
// how many accepted it. A session whose queue is full misses this frame. It
// is disconnected only if its writer has been stuck on one write for longer
// than WriteTimeout. No other session is affected.
func (h *Hub) BroadcastBytes(msgType message.Type, data []byte) int {
	start := time.Now()
	delivered := 0

	for _, s := range h.snapshot() {
		switch err := s.enqueue(data); {
		case err == nil:
			delivered++
		case errors.Is(err, errors.ErrSlowConsumer):
			s.dropped.Add(1)
			h.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.framesDropped.Inc()
			}
			if s.stalled(start, h.cfg.WriteTimeout) {
				h.leave(s, ReasonSlowConsumer, err)
			}
		}
	}

	h.broadcasts.Add(1)
	h.lastActivity.Store(h.clock.NowMs())
	if h.metrics != nil {
		h.metrics.broadcastsTotal.WithLabelValues(string(msgType)).Inc()
		h.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
		h.metrics.messageSizeBytes.Observe(float64(len(data)))
	}
	return delivered
}

// Deliver lets the hub act as a relay sink. Delivery problems are handled
// per session and never reported to the caller.
func (h *Hub) Deliver(_ context.Context, msgType message.Type, data []byte) error {
	h.BroadcastBytes(msgType, data)
	return nil
}

func (h *Hub) recordSent(n int) {
	h.messagesSent.Add(1)
	h.bytesSent.Add(int64(n))
	if h.metrics != nil {
		h.metrics.messagesSent.Inc()
		h.metrics.bytesSent.Add(float64(n))
	}
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close ends every session, refuses new ones and waits up to timeout for
// the session goroutines to exit.
func (h *Hub) Close(timeout time.Duration) {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, s := range h.snapshot() {
		h.leave(s, ReasonShutdown, nil)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		h.logger.Warn("Session goroutines did not exit within timeout", "timeout", timeout)
	}
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Clients      int
	MessagesSent int64
	BytesSent    int64
	Broadcasts   int64
	Dropped      int64
	LastActivity int64
}

// Stats returns the hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:      h.Count(),
		MessagesSent: h.messagesSent.Load(),
		BytesSent:    h.bytesSent.Load(),
		Broadcasts:   h.broadcasts.Load(),
		Dropped:      h.dropped.Load(),
		LastActivity: h.lastActivity.Load(),
	}
}
