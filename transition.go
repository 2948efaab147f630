package fsm

import (
	"fmt"
	"slices"

	"github.com/stateforward/fsm.go/kind"
)

// Guard gates a transition. It must not change the machine's configuration.
type Guard func() bool

// Transition is an immutable trigger -> (from, to) record with an optional guard.
type Transition[T, S comparable] struct {
	trigger  T
	from     S
	to       S
	guard    Guard
	hasGuard bool
	kind     uint64
}

// NewTransition creates a state transition. A nil guard means no guard.
func NewTransition[T, S comparable](trigger T, from, to S, maybeGuard ...Guard) Transition[T, S] {
	transition := Transition[T, S]{
		trigger: trigger,
		from:    from,
		to:      to,
		kind:    kind.StateTransition,
	}
	if len(maybeGuard) > 0 && maybeGuard[0] != nil {
		transition.guard = maybeGuard[0]
		transition.hasGuard = true
	}
	return transition
}

func (t Transition[T, S]) Trigger() T { return t.trigger }

// From returns the source state. For an unresolved global transition this
// is the zero state; use IsGlobal to tell.
func (t Transition[T, S]) From() S { return t.from }

func (t Transition[T, S]) To() S { return t.to }

func (t Transition[T, S]) HasGuard() bool { return t.hasGuard }

func (t Transition[T, S]) Kind() uint64 { return t.kind }

func (t Transition[T, S]) IsGlobal() bool {
	return kind.Is(t.kind, kind.GlobalTransition)
}

func (t Transition[T, S]) TriggerName() string { return fmt.Sprint(t.trigger) }

func (t Transition[T, S]) FromName() string {
	if t.IsGlobal() {
		return "*"
	}
	return fmt.Sprint(t.from)
}

func (t Transition[T, S]) ToName() string { return fmt.Sprint(t.to) }

func (t Transition[T, S]) String() string {
	if t.hasGuard {
		return fmt.Sprintf("%s --%s [guard]--> %s", t.FromName(), t.TriggerName(), t.ToName())
	}
	return fmt.Sprintf("%s --%s--> %s", t.FromName(), t.TriggerName(), t.ToName())
}

func (t Transition[T, S]) passes() bool {
	return t.guard == nil || t.guard()
}

// match returns the first transition for trigger whose guard passes. Guards
// after the first passing one are not evaluated.
func match[T, S comparable](transitions []Transition[T, S], trigger T) (Transition[T, S], bool) {
	for _, transition := range transitions {
		if transition.trigger != trigger {
			continue
		}
		if transition.passes() {
			return transition, true
		}
	}
	return Transition[T, S]{}, false
}

// StateConfiguration is the ordered list of transitions leaving one state.
// It is created and owned by a TransitionManager.
type StateConfiguration[T, S comparable] struct {
	manager     *TransitionManager[T, S]
	state       S
	global      bool
	transitions []Transition[T, S]
}

// State returns the configured source state.
func (c *StateConfiguration[T, S]) State() S {
	return c.state
}

// Permit appends an unguarded transition to the given state. Transitions to
// the configured state itself are rejected with ErrInvalidTransition.
func (c *StateConfiguration[T, S]) Permit(trigger T, to S) error {
	return c.permit(trigger, to, nil)
}

// PermitIf appends a transition that is taken only while guard returns true.
func (c *StateConfiguration[T, S]) PermitIf(trigger T, to S, guard Guard) error {
	if guard == nil {
		return fmt.Errorf("%w: nil guard for %v on %v", ErrInvalidTransition, c.state, trigger)
	}
	return c.permit(trigger, to, guard)
}

func (c *StateConfiguration[T, S]) permit(trigger T, to S, guard Guard) error {
	if err := c.manager.validate(trigger, to); err != nil {
		return err
	}
	if to == c.state {
		return fmt.Errorf("%w: cannot transit to self state %v", ErrInvalidTransition, to)
	}
	c.manager.mu.Lock()
	defer c.manager.mu.Unlock()
	c.transitions = append(c.transitions, NewTransition(trigger, c.state, to, guard))
	return nil
}

// ProcessTrigger returns the first transition for trigger, in configuration
// order, whose guard passes. Finding none is a normal outcome.
func (c *StateConfiguration[T, S]) ProcessTrigger(trigger T) (Transition[T, S], bool) {
	return match(c.Transitions(), trigger)
}

// Remove drops every transition for trigger and reports how many were dropped.
func (c *StateConfiguration[T, S]) Remove(trigger T) int {
	c.manager.mu.Lock()
	defer c.manager.mu.Unlock()
	before := len(c.transitions)
	c.transitions = slices.DeleteFunc(c.transitions, func(t Transition[T, S]) bool {
		return t.trigger == trigger
	})
	return before - len(c.transitions)
}

// Transitions returns a copy of the configured transitions.
func (c *StateConfiguration[T, S]) Transitions() []Transition[T, S] {
	c.manager.mu.RLock()
	defer c.manager.mu.RUnlock()
	return slices.Clone(c.transitions)
}

// Triggers returns the distinct configured triggers in configuration order.
func (c *StateConfiguration[T, S]) Triggers() []T {
	var triggers []T
	for _, transition := range c.Transitions() {
		if !slices.Contains(triggers, transition.trigger) {
			triggers = append(triggers, transition.trigger)
		}
	}
	return triggers
}
