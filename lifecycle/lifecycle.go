// Package lifecycle gives the backing components a server built on this
// engine wires up (resolver, accounting, calllog, alerting) a common
// Start/Stop shape, so cmd/* can bring them up and tear them down in one
// ordered sweep instead of hand-rolling the sequence per binary.
package lifecycle

import (
	"fmt"
	"log"
)

// Component is anything with an explicit startup and shutdown step.
// Resolver registration, and any of the observer wrappers that hold a live
// connection (Redis/Mongo/NSQ), implement this so Manager can sequence
// them uniformly.
type Component interface {
	Name() string
	Start() error
	Stop() error
}

// Manager starts components in the order they were added and stops them
// in reverse, the same ordering a stack of defers would give.
type Manager struct {
	components []Component
	started    []Component
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Add(c Component) {
	m.components = append(m.components, c)
}

// Start brings every component up in registration order. If one fails,
// Start stops everything already started (in reverse) before returning the
// error — a partially-initialized server is worse than doing nothing.
func (m *Manager) Start() error {
	for _, c := range m.components {
		log.Printf("lifecycle: starting %s", c.Name())
		if err := c.Start(); err != nil {
			stopErr := m.Stop()
			if stopErr != nil {
				return fmt.Errorf("lifecycle: start %s: %w (cleanup also failed: %v)", c.Name(), err, stopErr)
			}
			return fmt.Errorf("lifecycle: start %s: %w", c.Name(), err)
		}
		m.started = append(m.started, c)
	}
	return nil
}

// Stop tears down every component that was successfully started, in
// reverse order, collecting (but not stopping on) individual errors.
func (m *Manager) Stop() error {
	var firstErr error
	for i := len(m.started) - 1; i >= 0; i-- {
		c := m.started[i]
		log.Printf("lifecycle: stopping %s", c.Name())
		if err := c.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lifecycle: stop %s: %w", c.Name(), err)
		}
	}
	m.started = nil
	return firstErr
}
