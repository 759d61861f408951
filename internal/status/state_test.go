package status

import (
	"testing"
	"time"

	"github.com/hashim-i222478/chatlink/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if got := m.Current(); got != LoggedOut {
		t.Errorf("initial state = %s, want %s", got, LoggedOut)
	}
}

func TestValidTransitionChain(t *testing.T) {
	m := NewMachine(nil)
	chain := []State{Connecting, Online, Disconnected, Reconnecting, Connecting, Online, LoggedOut}
	for _, s := range chain {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if got := m.Current(); got != LoggedOut {
		t.Errorf("final state = %s, want %s", got, LoggedOut)
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Online); err == nil {
		t.Error("expected error for LoggedOut -> Online")
	}
	if got := m.Current(); got != LoggedOut {
		t.Errorf("state after failed transition = %s, want %s", got, LoggedOut)
	}
}

func TestSelfTransitionIsNoOp(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 4)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(LoggedOut); err != nil {
		t.Fatalf("self transition: %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("self transition published %q", evt.Kind)
	default:
	}
}

func TestTransitionPublishesStatusChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 4)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if change.From != LoggedOut || change.To != Connecting {
			t.Errorf("change = %+v", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status change event")
	}
}
