package strategy

import "testing"

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	if sm.Current() != StateFlat {
		t.Fatalf("initial state = %s, want FLAT", sm.Current())
	}
	if got := sm.Apply(EventOpened); got != StateOpen {
		t.Fatalf("FLAT + OPENED = %s, want OPEN", got)
	}
	if got := sm.Apply(EventClosed); got != StateFlat {
		t.Fatalf("OPEN + CLOSED = %s, want FLAT", got)
	}
}

func TestStateMachineIgnoresInvalidEvents(t *testing.T) {
	sm := NewStateMachine()
	if got := sm.Apply(EventClosed); got != StateFlat {
		t.Fatalf("FLAT + CLOSED = %s, want FLAT", got)
	}
	sm.Apply(EventOpened)
	if got := sm.Apply(EventOpened); got != StateOpen {
		t.Fatalf("OPEN + OPENED = %s, want OPEN", got)
	}
}

func TestStateMachineSetState(t *testing.T) {
	sm := NewStateMachine()
	sm.SetState(StateOpen)
	if sm.Current() != StateOpen {
		t.Fatalf("SetState(OPEN) not applied, got %s", sm.Current())
	}
}
