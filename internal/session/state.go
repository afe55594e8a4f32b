package session

import (
	"fmt"
	"slices"
	"sync"

	"github.com/charla-social/charla/internal/bus"
)

// State is a conversation session lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Joined       State = "JOINED"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions. Reconnection success
// goes back through Connecting so the room join always happens on a fresh
// connection.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Joined, Reconnecting, Disconnected},
	Joined:       {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces session state transitions, publishing every
// change on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	convID  string
	bus     *bus.Bus
}

// NewMachine creates a machine for one conversation, starting Disconnected.
func NewMachine(convID string, b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		convID:  convID,
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
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid session transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit("session.state_changed", StateChange{
			ConversationID: m.convID,
			From:           from,
			To:             to,
		})
	}
	return nil
}

// StateChange is the payload for session.state_changed events.
type StateChange struct {
	ConversationID string
	From           State
	To             State
}
