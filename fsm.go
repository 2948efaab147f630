// Package fsm provides a generic finite state machine with trigger driven,
// guarded transitions and global ("permit all") triggers.
//
// # Overview
//
// A [Machine] owns the current state of a closed, enumerable state domain and
// runs the entry, exit and activity behaviors registered for each state. A
// [TransitionManager] owns the transition configuration over a trigger domain
// and turns Fire calls into state changes:
//
//   - state transitions are configured per source state with Permit and
//     PermitIf and resolved in configuration order, first passing guard wins;
//   - global transitions registered with PermitAll apply to every state that
//     has no own transition for the trigger, unless the trigger was removed
//     for that state;
//   - activities are long running entry behaviors. A later transition cancels
//     the running activity and waits for it to return before it exits the
//     state.
//
// # Usage
//
//	type State int
//	type Trigger int
//
//	const (
//	    Idle State = iota
//	    Walk
//	)
//	const (
//	    Start Trigger = iota
//	    Stop
//	)
//
//	sm, err := fsm.Initialize(fsm.Enumerate(Idle, Walk), Idle, false)
//	if err != nil {
//	    return err
//	}
//	tm := fsm.NewTransitionManager(sm, fsm.Enumerate(Start, Stop))
//	tm.MustConfigure(Idle).Permit(Start, Walk)
//	tm.MustConfigure(Walk).Permit(Stop, Idle)
//
//	changed, err := tm.Fire(ctx, Start) // true, nil
package fsm

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/stateforward/fsm.go/muid"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrNilMachine is returned when an operation is attempted on a nil machine.
	ErrNilMachine = errors.New("fsm is nil")
	// ErrInvalidTransition is returned for transitions that cannot be configured:
	// a state transition to its own source, a missing guard, or a global
	// trigger that already exists while KeepExisting is requested.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidState is returned for states outside the machine's domain.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidTrigger is returned for triggers outside the manager's domain.
	ErrInvalidTrigger = errors.New("invalid trigger")
	// ErrMissingAction is returned when a nil lifecycle action is registered.
	ErrMissingAction = errors.New("missing action")
	// ErrUninitialized is returned when the machine has no current state yet.
	ErrUninitialized = errors.New("fsm not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("fsm already initialized")
	// ErrTransitioning is returned when a state change is requested from an
	// exit action, while the machine is between two states.
	ErrTransitioning = errors.New("fsm is transitioning")
	// ErrActionPanicked wraps a panic recovered from an entry or exit action.
	ErrActionPanicked = errors.New("action panicked")
)

// Config provides configuration options for machine initialization.
type Config struct {
	// ID is a unique identifier for the machine. Generated from IDs when empty.
	ID string
	// Name is used in logs and as the ID prefix. Defaults to "fsm".
	Name string
	// Logger receives transition and lifecycle records. Defaults to slog.Default().
	Logger *slog.Logger
	// EnableSelfTransition makes ChangeState to the current state run the
	// state's exit and entry behaviors instead of doing nothing.
	EnableSelfTransition bool
	// LifecycleTimeout bounds how long a state change waits for a cancelled
	// activity to return. Zero waits until it returns or the caller's
	// context is done.
	LifecycleTimeout time.Duration
	// IDs generates machine and event identifiers. Defaults to muid.Native().
	IDs muid.Source
}

// Domain is a closed, enumerable set of state or trigger values.
type Domain[T comparable] struct {
	values []T
	index  map[T]int
	names  map[string]int
}

// Enumerate returns the domain of values, in the given order. It panics on
// duplicate values, a configuration error that must not reach runtime.
func Enumerate[T comparable](values ...T) Domain[T] {
	domain := Domain[T]{
		values: slices.Clone(values),
		index:  make(map[T]int, len(values)),
		names:  make(map[string]int, len(values)),
	}
	for i, value := range values {
		if _, ok := domain.index[value]; ok {
			panic(fmt.Errorf("fsm: duplicate domain value %v", value))
		}
		domain.index[value] = i
		if _, ok := domain.names[fmt.Sprint(value)]; !ok {
			domain.names[fmt.Sprint(value)] = i
		}
	}
	return domain
}

// Values returns a copy of the domain values in enumeration order.
func (d Domain[T]) Values() []T {
	return slices.Clone(d.values)
}

func (d Domain[T]) Len() int {
	return len(d.values)
}

func (d Domain[T]) Contains(value T) bool {
	_, ok := d.index[value]
	return ok
}

// Index returns the enumeration position of value, or -1.
func (d Domain[T]) Index(value T) int {
	if i, ok := d.index[value]; ok {
		return i
	}
	return -1
}

// Name returns the display name of value: its String method when it has one.
func (d Domain[T]) Name(value T) string {
	return fmt.Sprint(value)
}

// Names returns the display names in enumeration order.
func (d Domain[T]) Names() []string {
	names := make([]string, len(d.values))
	for i, value := range d.values {
		names[i] = fmt.Sprint(value)
	}
	return names
}

// Lookup finds the value with the given display name.
func (d Domain[T]) Lookup(name string) (T, bool) {
	if i, ok := d.names[name]; ok {
		return d.values[i], true
	}
	var zero T
	return zero, false
}

var closedChannel = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
