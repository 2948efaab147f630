package kind

import (
	"testing"
)

func TestKinds(t *testing.T) {
	if !Is(StateTransition, Transition) {
		t.Errorf("StateTransition should be a Transition")
	}
	if !Is(GlobalTransition, Transition, Element) {
		t.Errorf("GlobalTransition should be a Transition")
	}
	if Is(GlobalTransition, StateTransition) {
		t.Errorf("GlobalTransition should not be a StateTransition")
	}
	if !Is(GlobalConfiguration, Configuration) {
		t.Errorf("GlobalConfiguration should be a Configuration")
	}
	if Is(Machine, Transition) || Is(Configuration, Transition) {
		t.Errorf("Machine and Configuration should not be Transitions")
	}
	if Is(0, Element) || Is(Machine, 0) {
		t.Errorf("zero kind should never match")
	}
}

func TestMakeDeduplicatesBases(t *testing.T) {
	a := Make()
	b := Make(a)
	c := Make(a, b, b)
	ids := IDs(c)
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %v", ids)
	}
	if !Is(c, a) || !Is(c, b) {
		t.Errorf("expected %d to inherit from %d and %d", c, a, b)
	}
	if ID(c) == ID(a) || ID(c) == ID(b) {
		t.Errorf("expected a fresh id for %d", c)
	}
}
