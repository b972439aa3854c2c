package status

import (
	"testing"

	"github.com/ncastel/charla/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Anonymous},
		{Anonymous, Authenticating},
		{Authenticating, Authenticated},
		{Authenticating, Anonymous},
		{Authenticated, Anonymous},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Authenticated); err == nil {
		t.Error("Transition(BOOTING -> AUTHENTICATED) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want unchanged BOOTING", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.NewBus()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Anonymous); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(Change)
	if !ok {
		t.Fatalf("payload type = %T, want Change", evt.Payload)
	}
	if change.From != Booting || change.To != Anonymous {
		t.Errorf("change = %v -> %v, want BOOTING -> ANONYMOUS", change.From, change.To)
	}
}

// TestSignInSignOutLifecycle walks the full sign-in then sign-out cycle.
func TestSignInSignOutLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Anonymous, Authenticating, Authenticated, Anonymous}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Anonymous {
		t.Errorf("final state = %s, want ANONYMOUS", m.Current())
	}

	if m.Authenticated() {
		t.Error("Authenticated() should be false after sign-out")
	}
}

func TestFailedSignInReturnsToAnonymous(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Authenticating)

	if err := m.Transition(Anonymous); err != nil {
		t.Fatalf("AUTHENTICATING -> ANONYMOUS: %v", err)
	}
}

// walkTo transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:        {},
		Anonymous:      {Anonymous},
		Authenticating: {Anonymous, Authenticating},
		Authenticated:  {Anonymous, Authenticating, Authenticated},
		Error:          {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
