package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fbdash/fbdash/internal/bus"
)

// Transport represents the realtime channel transport state.
type Transport string

const (
	Disconnected Transport = "DISCONNECTED"
	Connecting   Transport = "CONNECTING"
	Connected    Transport = "CONNECTED"
)

// validTransitions defines allowed transport transitions.
var validTransitions = map[Transport][]Transport{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine tracks the realtime channel's transport state for the lifetime of
// the daemon. Successful connects reset the reconnect attempt counter.
type Machine struct {
	mu              sync.RWMutex
	current         Transport
	attempts        int
	lastConnectedAt time.Time
	bus             *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current transport state.
func (m *Machine) Current() Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Connected reports whether the transport is connected.
func (m *Machine) Connected() bool {
	return m.Current() == Connected
}

// Attempts returns the number of reconnect attempts since the last
// successful connect.
func (m *Machine) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// LastConnectedAt returns when the transport last reached Connected, or the
// zero time if it never has.
func (m *Machine) LastConnectedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastConnectedAt
}

// RecordAttempt increments the reconnect attempt counter and returns the new
// count. Called by the channel before each dial.
func (m *Machine) RecordAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return m.attempts
}

// Transition attempts to move to a new transport state. Returns an error if
// the transition is invalid. Reaching Connected resets the attempt counter
// and stamps lastConnectedAt.
func (m *Machine) Transition(to Transport) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		defer m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if to == Connected {
		m.attempts = 0
		m.lastConnectedAt = time.Now()
	}
	b := m.bus
	m.mu.Unlock()

	if b != nil {
		b.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From Transport
	To   Transport
}
