package health

import (
	"sort"
	"sync"

	"github.com/c360/blinkrelay/component"
)

// Check produces a component's current status.
type Check func() Status

// Monitor holds named checks and evaluates them on demand.
type Monitor struct {
	name string

	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a monitor that reports under systemName.
func NewMonitor(systemName string) *Monitor {
	return &Monitor{
		name:   systemName,
		checks: make(map[string]Check),
	}
}

// Register adds or replaces the check for name.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// RegisterComponent registers a check backed by c.Health().
func (m *Monitor) RegisterComponent(c component.Discoverable, optional bool) {
	name := c.Meta().Name
	m.Register(name, func() Status {
		return FromComponentHealth(name, c.Health(), optional)
	})
}

// Remove drops the check for name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Names returns the registered check names, sorted.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check and aggregates the results in name order.
func (m *Monitor) Check() Status {
	names := m.Names()

	m.mu.RLock()
	checks := make([]Check, 0, len(names))
	for _, name := range names {
		if c, ok := m.checks[name]; ok {
			checks = append(checks, c)
		}
	}
	m.mu.RUnlock()

	subs := make([]Status, 0, len(checks))
	for _, c := range checks {
		subs = append(subs, c())
	}
	return Aggregate(m.name, subs)
}
