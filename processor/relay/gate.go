package relay

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is the shortest spacing between two accepted
// triggers. Anything closer is treated as a duplicate of the first.
const DefaultDebounceWindow = 350 * time.Millisecond

// Gate suppresses triggers that arrive within the window after the last
// accepted one. Only acceptance moves the window; rejected triggers do not
// extend it.
type Gate struct {
	windowMs int64

	mu             sync.Mutex
	lastAcceptedMs int64
	primed         bool
}

// NewGate creates a gate. A non-positive window falls back to the default.
func NewGate(window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Gate{windowMs: window.Milliseconds()}
}

// Accept reports whether a trigger at nowMs passes. The first trigger
// always passes; later ones need nowMs - last > window, strictly.
func (g *Gate) Accept(nowMs int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.primed && nowMs-g.lastAcceptedMs <= g.windowMs {
		return false
	}
	g.lastAcceptedMs = nowMs
	g.primed = true
	return true
}

// LastAccepted returns the time of the last accepted trigger, 0 if none.
func (g *Gate) LastAccepted() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAcceptedMs
}

// Window returns the debounce window.
func (g *Gate) Window() time.Duration {
	return time.Duration(g.windowMs) * time.Millisecond
}
