package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is the lifecycle every relay component follows:
//   - Initialize() error                  // validate and allocate, no I/O
//   - Start(ctx context.Context) error    // begin work, ctx bounds the run
//   - Stop(timeout time.Duration) error   // release resources within timeout
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// ManagedComponent tracks a component and its lifecycle state.
type ManagedComponent struct {
	Component LifecycleComponent
	State     State
	LastError error
}

// Group starts components in registration order and stops them in reverse.
type Group struct {
	logger *slog.Logger

	mu      sync.Mutex
	members []*ManagedComponent
}

// NewGroup creates an empty group.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{logger: logger.With("component", "lifecycle")}
}

// Add registers c. Components must be added before Start.
func (g *Group) Add(c LifecycleComponent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, &ManagedComponent{Component: c, State: StateCreated})
}

// Start initializes and starts every component. If one fails, the ones
// already started are stopped and the error is returned.
func (g *Group) Start(ctx context.Context, stopTimeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, mc := range g.members {
		name := mc.Component.Meta().Name

		if err := mc.Component.Initialize(); err != nil {
			mc.State, mc.LastError = StateFailed, err
			g.stopLocked(i, stopTimeout)
			return fmt.Errorf("initialize %s: %w", name, err)
		}
		mc.State = StateInitialized

		if err := mc.Component.Start(ctx); err != nil {
			mc.State, mc.LastError = StateFailed, err
			g.stopLocked(i, stopTimeout)
			return fmt.Errorf("start %s: %w", name, err)
		}
		mc.State = StateStarted
		g.logger.Debug("Component started", "name", name)
	}
	return nil
}

// Stop stops every started component in reverse order and joins the errors.
func (g *Group) Stop(timeout time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopLocked(len(g.members), timeout)
}

func (g *Group) stopLocked(n int, timeout time.Duration) error {
	var errs []error
	for i := n - 1; i >= 0; i-- {
		mc := g.members[i]
		if mc.State != StateStarted {
			continue
		}
		name := mc.Component.Meta().Name
		if err := mc.Component.Stop(timeout); err != nil {
			mc.State, mc.LastError = StateFailed, err
			g.logger.Warn("Component stop failed", "name", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		mc.State = StateStopped
		g.logger.Debug("Component stopped", "name", name)
	}
	return errors.Join(errs...)
}

// Components returns the registered components in start order.
func (g *Group) Components() []Discoverable {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Discoverable, 0, len(g.members))
	for _, mc := range g.members {
		out = append(out, mc.Component)
	}
	return out
}

// States returns each component's lifecycle state keyed by name.
func (g *Group) States() map[string]State {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]State, len(g.members))
	for _, mc := range g.members {
		out[mc.Component.Meta().Name] = mc.State
	}
	return out
}
