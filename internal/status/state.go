package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/securetalk/internal/bus"
)

// State is the lifecycle state of the session's home stream.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Disconnected State = "DISCONNECTED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Ready, Reconnecting, Disconnected, AuthRequired, Error},
	Ready:        {Reconnecting, Disconnected, AuthRequired, Error},
	Reconnecting: {Connecting, Disconnected, AuthRequired, Error},
	Disconnected: {Connecting, AuthRequired, Error},
	Error:        {Booting, Connecting, AuthRequired},
}

// Machine tracks and enforces state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: m.since,
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// Walk applies each transition in order, stopping at the first invalid one.
// Steps equal to the current state are skipped.
func (m *Machine) Walk(steps ...State) error {
	for _, s := range steps {
		if m.Current() == s {
			continue
		}
		if err := m.Transition(s); err != nil {
			return err
		}
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
