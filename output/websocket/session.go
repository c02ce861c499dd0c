package websocket

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	relayerrors "github.com/c360/blinkrelay/errors"
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// SessionState is a subscriber session's lifecycle state.
type SessionState int32

const (
	// SessionConnecting is a session whose greeting is not yet queued.
	SessionConnecting SessionState = iota
	// SessionOpen is a session that receives broadcasts.
	SessionOpen
	// SessionClosed is terminal. Reconnecting clients get a new session.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionOpen:
		return "open"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Disconnect reasons, used as the metric label and in logs.
const (
	ReasonClientClosed = "client_closed"
	ReasonReadError    = "read_error"
	ReasonTimeout      = "timeout"
	ReasonSendError    = "send_error"
	ReasonPingFailed   = "ping_failed"
	ReasonSlowConsumer = "slow_consumer"
	ReasonShutdown     = "shutdown"
)

// Session is one live subscriber. Outbound frames go through a bounded queue
// drained by a single writer goroutine, so a slow socket never blocks the
// broadcaster and frames leave in the order they were queued.
type Session struct {
	id          string
	remote      string
	conn        Conn
	connectedAt time.Time

	out       chan []byte
	done      chan struct{}
	state     atomic.Int32
	closeOnce sync.Once
	sent      atomic.Int64
	dropped   atomic.Int64

	// unix nanos when the in-flight write began, 0 when the writer is idle
	writeStart atomic.Int64
}

func newSession(id, remote string, conn Conn, queueSize int, now time.Time) *Session {
	return &Session{
		id:          id,
		remote:      remote,
		conn:        conn,
		connectedAt: now,
		out:         make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Sent returns how many frames were written to the socket.
func (s *Session) Sent() int64 { return s.sent.Load() }

// Dropped returns how many frames were skipped because the queue was full.
func (s *Session) Dropped() int64 { return s.dropped.Load() }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue queues data without blocking. Sessions that are not open are
// skipped with ErrSessionClosed. A full queue returns ErrSlowConsumer and
// the frame is not queued.
func (s *Session) enqueue(data []byte) error {
	if s.State() != SessionOpen {
		return relayerrors.ErrSessionClosed
	}
	select {
	case <-s.done:
		return relayerrors.ErrSessionClosed
	case s.out <- data:
		return nil
	default:
		return relayerrors.ErrSlowConsumer
	}
}

func (s *Session) write(messageType int, data []byte, timeout time.Duration) error {
	now := time.Now()
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(now.Add(timeout))
	}
	s.writeStart.Store(now.UnixNano())
	defer s.writeStart.Store(0)
	return s.conn.WriteMessage(messageType, data)
}

// stalled reports whether the write in flight at now has been running for
// longer than limit. A limit of 0 never stalls.
func (s *Session) stalled(now time.Time, limit time.Duration) bool {
	start := s.writeStart.Load()
	if start == 0 || limit <= 0 {
		return false
	}
	return now.Sub(time.Unix(0, start)) > limit
}

// writeLoop owns every write to the socket, including pings.
func (s *Session) writeLoop(h *Hub) {
	defer h.wg.Done()

	var tick <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case data := <-s.out:
			if err := s.write(websocket.TextMessage, data, h.cfg.WriteTimeout); err != nil {
				h.leave(s, ReasonSendError, err)
				return
			}
			s.sent.Add(1)
			h.recordSent(len(data))
		case <-tick:
			if err := s.write(websocket.PingMessage, nil, h.cfg.WriteTimeout); err != nil {
				h.leave(s, ReasonPingFailed, err)
				return
			}
		}
	}
}

// readLoop discards inbound frames and notices when the peer goes away.
func (s *Session) readLoop(h *Hub) {
	defer h.wg.Done()

	extend := func() {
		if h.cfg.PongWait > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		}
	}
	extend()
	s.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			h.leave(s, readFailureReason(err), err)
			return
		}
		extend()
	}
}

func readFailureReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ReasonClientClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}
	return ReasonReadError
}
