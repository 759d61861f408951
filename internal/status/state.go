package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashim-i222478/chatlink/internal/bus"
)

// State represents the realtime connection state for the active identity.
type State string

const (
	LoggedOut    State = "LOGGED_OUT"
	Connecting   State = "CONNECTING"
	Online       State = "ONLINE"
	Disconnected State = "DISCONNECTED"
	Reconnecting State = "RECONNECTING"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. A dropped socket lands
// in Disconnected and stays there unless reconnect is enabled or the
// identity changes; that mirrors the identity-driven connection lifecycle.
var validTransitions = map[State][]State{
	LoggedOut:    {Connecting, Error},
	Connecting:   {Online, Disconnected, LoggedOut, Error},
	Online:       {Connecting, Disconnected, LoggedOut, Error},
	Disconnected: {Connecting, Reconnecting, LoggedOut, Error},
	Reconnecting: {Connecting, Disconnected, LoggedOut, Error},
	Error:        {LoggedOut, Connecting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in LoggedOut.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: LoggedOut,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid. Self-transitions are no-ops.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.KindSessionStatus, StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
