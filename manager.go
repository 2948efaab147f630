package fsm

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/stateforward/fsm.go/elements"
	"github.com/stateforward/fsm.go/kind"
)

// Mode selects what PermitAll does when the trigger is already global.
type Mode int

const (
	// KeepExisting rejects the new global transition with ErrInvalidTransition.
	KeepExisting Mode = iota
	// Overwrite replaces the existing global transition in place.
	Overwrite
)

func (m Mode) String() string {
	switch m {
	case KeepExisting:
		return "keep-existing"
	case Overwrite:
		return "overwrite"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// StateEvent describes a committed transition. It is a snapshot delivered
// to Triggered observers.
type StateEvent[T, S comparable] struct {
	ID       string
	Machine  string
	From     S
	To       S
	Trigger  T
	HadGuard bool
	Global   bool
	Time     time.Time
}

type observer[T, S comparable] struct {
	id uint64
	fn func(StateEvent[T, S])
}

type suppression[T, S comparable] struct {
	state   S
	trigger T
}

// TransitionManager owns the transition configuration of a machine and
// resolves fired triggers against its current state.
//
// Configuration must not be changed concurrently with Fire. The read-only
// introspection methods may be called from any goroutine.
type TransitionManager[T, S comparable] struct {
	machine  *Machine[S]
	triggers Domain[T]

	mu             sync.RWMutex
	configurations map[S]*StateConfiguration[T, S]
	order          []S
	global         *StateConfiguration[T, S]
	suppressed     map[suppression[T, S]]struct{}
	observers      []observer[T, S]
	observerID     uint64

	// committed events not yet delivered, in commit order
	queue    sync.Mutex
	events   []StateEvent[T, S]
	flushing bool
}

// NewTransitionManager creates an empty configuration for machine over the
// trigger domain.
func NewTransitionManager[T, S comparable](machine *Machine[S], triggers Domain[T]) *TransitionManager[T, S] {
	tm := &TransitionManager[T, S]{
		machine:        machine,
		triggers:       triggers,
		configurations: map[S]*StateConfiguration[T, S]{},
		suppressed:     map[suppression[T, S]]struct{}{},
	}
	tm.global = &StateConfiguration[T, S]{manager: tm, global: true}
	return tm
}

// Machine returns the machine the manager drives.
func (tm *TransitionManager[T, S]) Machine() *Machine[S] {
	return tm.machine
}

func (tm *TransitionManager[T, S]) validate(trigger T, state S) error {
	if tm == nil || tm.machine == nil {
		return ErrNilMachine
	}
	if !tm.triggers.Contains(trigger) {
		return fmt.Errorf("%w: %v", ErrInvalidTrigger, trigger)
	}
	if !tm.machine.states.Contains(state) {
		return fmt.Errorf("%w: %v", ErrInvalidState, state)
	}
	return nil
}

// Configure returns the configuration of state, creating it on first use.
func (tm *TransitionManager[T, S]) Configure(state S) (*StateConfiguration[T, S], error) {
	if tm == nil || tm.machine == nil {
		return nil, ErrNilMachine
	}
	if !tm.machine.states.Contains(state) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, state)
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if configuration, ok := tm.configurations[state]; ok {
		return configuration, nil
	}
	configuration := &StateConfiguration[T, S]{manager: tm, state: state}
	tm.configurations[state] = configuration
	tm.order = append(tm.order, state)
	return configuration, nil
}

// MustConfigure is like Configure but panics for states outside the domain.
func (tm *TransitionManager[T, S]) MustConfigure(state S) *StateConfiguration[T, S] {
	configuration, err := tm.Configure(state)
	if err != nil {
		panic(err)
	}
	return configuration
}

// PermitAll registers a global transition to the given state, taken from any
// state without its own transition for trigger unless removed for that state.
func (tm *TransitionManager[T, S]) PermitAll(trigger T, to S, mode Mode) error {
	return tm.permitAll(trigger, to, nil, mode)
}

// PermitAllIf is PermitAll with a guard.
func (tm *TransitionManager[T, S]) PermitAllIf(trigger T, to S, guard Guard, mode Mode) error {
	if guard == nil {
		return fmt.Errorf("%w: nil guard for global %v", ErrInvalidTransition, trigger)
	}
	return tm.permitAll(trigger, to, guard, mode)
}

func (tm *TransitionManager[T, S]) permitAll(trigger T, to S, guard Guard, mode Mode) error {
	if err := tm.validate(trigger, to); err != nil {
		return err
	}
	transition := NewTransition(trigger, tm.global.state, to, guard)
	transition.kind = kind.GlobalTransition
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for i, existing := range tm.global.transitions {
		if existing.trigger != trigger {
			continue
		}
		if mode != Overwrite {
			return fmt.Errorf("%w: global trigger %v already permitted to %v", ErrInvalidTransition, trigger, existing.to)
		}
		tm.global.transitions[i] = transition
		return nil
	}
	tm.global.transitions = append(tm.global.transitions, transition)
	return nil
}

// Remove suppresses the global transition for trigger while in state. Other
// states and the global configuration are unaffected. The state is
// configured if it was not already.
func (tm *TransitionManager[T, S]) Remove(state S, trigger T) error {
	if err := tm.validate(trigger, state); err != nil {
		return err
	}
	if _, err := tm.Configure(state); err != nil {
		return err
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.suppressed[suppression[T, S]{state, trigger}] = struct{}{}
	return nil
}

// Reinstate lifts a suppression added by Remove. It reports whether one existed.
func (tm *TransitionManager[T, S]) Reinstate(state S, trigger T) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	key := suppression[T, S]{state, trigger}
	if _, ok := tm.suppressed[key]; !ok {
		return false
	}
	delete(tm.suppressed, key)
	return true
}

// Suppressed returns the global triggers removed for state, in domain order.
func (tm *TransitionManager[T, S]) Suppressed(state S) []T {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	var triggers []T
	for _, trigger := range tm.triggers.values {
		if _, ok := tm.suppressed[suppression[T, S]{state, trigger}]; ok {
			triggers = append(triggers, trigger)
		}
	}
	return triggers
}

// resolve finds the transition for trigger from state: the state's own
// configuration first, then the global one unless suppressed. Global
// transitions come back bound to state.
func (tm *TransitionManager[T, S]) resolve(state S, trigger T) (Transition[T, S], bool) {
	tm.mu.RLock()
	var own []Transition[T, S]
	if configuration, ok := tm.configurations[state]; ok {
		own = slices.Clone(configuration.transitions)
	}
	_, suppressed := tm.suppressed[suppression[T, S]{state, trigger}]
	global := slices.Clone(tm.global.transitions)
	tm.mu.RUnlock()

	if transition, ok := match(own, trigger); ok {
		return transition, true
	}
	if suppressed {
		return Transition[T, S]{}, false
	}
	transition, ok := match(global, trigger)
	if !ok {
		return Transition[T, S]{}, false
	}
	transition.from = state
	return transition, true
}

// Resolve returns the transition Fire would take for trigger, without
// taking it. Guards are evaluated.
func (tm *TransitionManager[T, S]) Resolve(trigger T) (Transition[T, S], bool) {
	current, ok := tm.machine.CurrentState()
	if !ok {
		return Transition[T, S]{}, false
	}
	return tm.resolve(current, trigger)
}

// CanFire reports whether Fire(trigger) would change the state right now.
func (tm *TransitionManager[T, S]) CanFire(trigger T) bool {
	current, ok := tm.machine.CurrentState()
	if !ok {
		return false
	}
	transition, ok := tm.resolve(current, trigger)
	return ok && transition.to != current
}

// Fire resolves trigger against the current state and, when a transition
// applies, changes state and notifies observers.
//
// Fire returns false with a nil error when no transition applies or the
// resolved transition leads back to the current state. Errors are reserved
// for faults: an uninitialized machine, a context cancelled while waiting for
// a preempted activity, or a panicking entry or exit action. A panic in an
// entry action happens after the commit, so Fire returns true with the error.
func (tm *TransitionManager[T, S]) Fire(ctx context.Context, trigger T) (bool, error) {
	if tm == nil || tm.machine == nil {
		return false, ErrNilMachine
	}
	from, ok := tm.machine.CurrentState()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUninitialized, tm.machine.id)
	}
	transition, ok := tm.resolve(from, trigger)
	if !ok || transition.to == from {
		tm.machine.logger.Debug("fsm: trigger not applicable", "trigger", fmt.Sprint(trigger), "state", tm.machine.states.Name(from))
		return false, nil
	}
	committed, err := tm.machine.changeState(ctx, transition.to, func() {
		tm.enqueue(StateEvent[T, S]{
			ID:       tm.machine.ids(),
			Machine:  tm.machine.id,
			From:     from,
			To:       transition.to,
			Trigger:  trigger,
			HadGuard: transition.hasGuard,
			Global:   transition.IsGlobal(),
			Time:     time.Now(),
		})
	})
	tm.flush()
	return committed, err
}

func (tm *TransitionManager[T, S]) enqueue(event StateEvent[T, S]) {
	tm.queue.Lock()
	defer tm.queue.Unlock()
	tm.events = append(tm.events, event)
}

// flush delivers queued events in commit order. A Fire nested in an entry
// action commits after the outer one but returns first; it delivers both,
// oldest first, and the outer Fire then finds the queue empty.
func (tm *TransitionManager[T, S]) flush() {
	tm.queue.Lock()
	if tm.flushing {
		tm.queue.Unlock()
		return
	}
	tm.flushing = true
	tm.queue.Unlock()
	defer func() {
		if r := recover(); r != nil {
			tm.queue.Lock()
			tm.flushing = false
			tm.queue.Unlock()
			panic(r)
		}
	}()
	for {
		event, ok := tm.dequeue()
		if !ok {
			return
		}
		tm.notify(event)
	}
}

// dequeue pops the oldest event. It ends the flush when the queue is empty.
func (tm *TransitionManager[T, S]) dequeue() (StateEvent[T, S], bool) {
	tm.queue.Lock()
	defer tm.queue.Unlock()
	if len(tm.events) == 0 {
		tm.flushing = false
		return StateEvent[T, S]{}, false
	}
	event := tm.events[0]
	tm.events = slices.Delete(tm.events, 0, 1)
	return event, true
}

// Subscribe registers fn for every committed transition. Observers are called
// synchronously, in registration order, after the new state is committed and
// its entry actions ran. Events reach observers in commit order.
func (tm *TransitionManager[T, S]) Subscribe(fn func(StateEvent[T, S])) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.observerID++
	id := tm.observerID
	tm.observers = append(tm.observers, observer[T, S]{id: id, fn: fn})
	return func() {
		tm.mu.Lock()
		defer tm.mu.Unlock()
		tm.observers = slices.DeleteFunc(tm.observers, func(o observer[T, S]) bool {
			return o.id == id
		})
	}
}

func (tm *TransitionManager[T, S]) notify(event StateEvent[T, S]) {
	tm.mu.RLock()
	observers := slices.Clone(tm.observers)
	tm.mu.RUnlock()
	for _, o := range observers {
		o.fn(event)
	}
}

// Clear drops every state configuration, global transition and suppression.
// Observers stay subscribed.
func (tm *TransitionManager[T, S]) Clear() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	clear(tm.configurations)
	clear(tm.suppressed)
	tm.order = nil
	tm.global.transitions = nil
}

/******* Introspection *******/

var _ elements.Model = (*TransitionManager[int, int])(nil)

// States returns the state domain values.
func (tm *TransitionManager[T, S]) States() []S {
	return tm.machine.states.Values()
}

// Triggers returns the trigger domain values.
func (tm *TransitionManager[T, S]) Triggers() []T {
	return tm.triggers.Values()
}

// TriggerDomain returns the trigger domain.
func (tm *TransitionManager[T, S]) TriggerDomain() Domain[T] {
	return tm.triggers
}

// ConfiguredStates returns the states with a configuration, in creation order.
func (tm *TransitionManager[T, S]) ConfiguredStates() []S {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.order)
}

// Transitions returns a copy of the transitions configured for state.
func (tm *TransitionManager[T, S]) Transitions(state S) []Transition[T, S] {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if configuration, ok := tm.configurations[state]; ok {
		return slices.Clone(configuration.transitions)
	}
	return nil
}

// GlobalTransitions returns a copy of the global transitions.
func (tm *TransitionManager[T, S]) GlobalTransitions() []Transition[T, S] {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return slices.Clone(tm.global.transitions)
}

func (tm *TransitionManager[T, S]) Kind() uint64 { return kind.Machine }

func (tm *TransitionManager[T, S]) ID() string { return tm.machine.id }

func (tm *TransitionManager[T, S]) StateNames() []string {
	return tm.machine.states.Names()
}

func (tm *TransitionManager[T, S]) TriggerNames() []string {
	return tm.triggers.Names()
}

func (tm *TransitionManager[T, S]) ConfigurationList() []elements.Configuration {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	list := make([]elements.Configuration, 0, len(tm.order))
	for _, state := range tm.order {
		list = append(list, configurationView[T, S]{tm.configurations[state]})
	}
	return list
}

func (tm *TransitionManager[T, S]) GlobalConfiguration() elements.Configuration {
	return configurationView[T, S]{tm.global}
}

func (tm *TransitionManager[T, S]) CurrentStateName() string {
	current, ok := tm.machine.CurrentState()
	if !ok {
		return ""
	}
	return tm.machine.states.Name(current)
}

// configurationView exposes a StateConfiguration as an elements.Configuration.
type configurationView[T, S comparable] struct {
	configuration *StateConfiguration[T, S]
}

func (v configurationView[T, S]) Kind() uint64 {
	if v.configuration.global {
		return kind.GlobalConfiguration
	}
	return kind.Configuration
}

func (v configurationView[T, S]) StateName() string {
	if v.configuration.global {
		return "*"
	}
	return fmt.Sprint(v.configuration.state)
}

func (v configurationView[T, S]) Transitions() []elements.Transition {
	transitions := v.configuration.Transitions()
	list := make([]elements.Transition, len(transitions))
	for i, transition := range transitions {
		list[i] = transition
	}
	return list
}

func (v configurationView[T, S]) Suppressed() []string {
	if v.configuration.global {
		return nil
	}
	var names []string
	for _, trigger := range v.configuration.manager.Suppressed(v.configuration.state) {
		names = append(names, fmt.Sprint(trigger))
	}
	return names
}
