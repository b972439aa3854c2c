package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ncastel/charla/internal/bus"
)

// State represents a session runtime state. The contact graph and chat
// provisioning only run while the session is Authenticated.
type State string

const (
	Booting        State = "BOOTING"
	Anonymous      State = "ANONYMOUS"
	Authenticating State = "AUTHENTICATING"
	Authenticated  State = "AUTHENTICATED"
	Error          State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:        {Anonymous, Error},
	Anonymous:      {Authenticating, Error},
	Authenticating: {Authenticated, Anonymous, Error},
	Authenticated:  {Anonymous, Error},
	Error:          {Booting},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Authenticated reports whether the session is signed in.
func (m *Machine) Authenticated() bool {
	return m.Current() == Authenticated
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.New(bus.KindStatusChanged, Change{From: from, To: to}))
	}
	return nil
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}
