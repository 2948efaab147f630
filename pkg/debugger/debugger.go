// Package debugger attaches to a machine and its transition manager to
// enumerate their domains, record the transitions they take and drive them
// by name. It only uses the public engine surface, so attaching a debugger
// never changes how the machine behaves.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/elements"
	"github.com/stateforward/fsm.go/pkg/plantuml"
)

var (
	ErrUnknownState   = errors.New("unknown state")
	ErrUnknownTrigger = errors.New("unknown trigger")
	ErrNoTransitions  = errors.New("no transition manager registered")
	ErrNotRegistered  = errors.New("debugger not registered")
)

// DefaultHistorySize is the number of events kept when Config.HistorySize is unset.
const DefaultHistorySize = 64

// Config provides configuration options for a Debugger.
type Config struct {
	// HistorySize bounds the number of recorded events. Defaults to DefaultHistorySize.
	HistorySize int
	// Logger receives one record per observed transition. Nil disables logging.
	Logger *slog.Logger
}

// Debugger records and drives one machine.
type Debugger[T, S comparable] struct {
	machine     *fsm.Machine[S]
	manager     *fsm.TransitionManager[T, S]
	logger      *slog.Logger
	limit       int
	unsubscribe func()

	mu       sync.RWMutex
	previous *fsm.StateEvent[T, S]
	history  []fsm.StateEvent[T, S]
}

func newDebugger[T, S comparable](sm *fsm.Machine[S], tm *fsm.TransitionManager[T, S], maybeConfig ...Config) *Debugger[T, S] {
	d := &Debugger[T, S]{
		machine:     sm,
		manager:     tm,
		limit:       DefaultHistorySize,
		unsubscribe: func() {},
	}
	if len(maybeConfig) > 0 {
		config := maybeConfig[0]
		if config.HistorySize > 0 {
			d.limit = config.HistorySize
		}
		d.logger = config.Logger
	}
	return d
}

// Register attaches a debugger to tm and the machine it drives.
func Register[T, S comparable](tm *fsm.TransitionManager[T, S], maybeConfig ...Config) *Debugger[T, S] {
	d := newDebugger(tm.Machine(), tm, maybeConfig...)
	d.unsubscribe = tm.Subscribe(d.record)
	return d
}

// RegisterMachine attaches a debugger to a machine without transitions. Only
// state changes can be invoked.
func RegisterMachine[S comparable](sm *fsm.Machine[S], maybeConfig ...Config) *Debugger[S, S] {
	return newDebugger[S, S](sm, nil, maybeConfig...)
}

func (d *Debugger[T, S]) record(event fsm.StateEvent[T, S]) {
	d.mu.Lock()
	d.previous = &event
	d.history = append(d.history, event)
	if over := len(d.history) - d.limit; over > 0 {
		d.history = slices.Delete(d.history, 0, over)
	}
	d.mu.Unlock()
	if d.logger != nil {
		d.logger.Info("debugger: transition",
			"machine", event.Machine,
			"id", event.ID,
			"from", fmt.Sprint(event.From),
			"to", fmt.Sprint(event.To),
			"trigger", fmt.Sprint(event.Trigger),
			"guard", event.HadGuard,
			"global", event.Global,
		)
	}
}

// Close stops recording. The debugger can still invoke triggers.
func (d *Debugger[T, S]) Close() {
	d.unsubscribe()
}

// StateValid reports whether a machine is attached.
func (d *Debugger[T, S]) StateValid() bool {
	return d != nil && d.machine != nil
}

// TransitionValid reports whether a transition manager is attached.
func (d *Debugger[T, S]) TransitionValid() bool {
	return d.StateValid() && d.manager != nil
}

func (d *Debugger[T, S]) CurrentStateName() string {
	if !d.StateValid() {
		return ""
	}
	current, ok := d.machine.CurrentState()
	if !ok {
		return ""
	}
	return d.machine.States().Name(current)
}

// States returns the state names in domain order.
func (d *Debugger[T, S]) States() []string {
	if !d.StateValid() {
		return nil
	}
	return d.machine.States().Names()
}

// Triggers returns the trigger names in domain order, or nil without a
// transition manager.
func (d *Debugger[T, S]) Triggers() []string {
	if !d.TransitionValid() {
		return nil
	}
	return d.manager.TriggerDomain().Names()
}

// Previous returns the last recorded transition.
func (d *Debugger[T, S]) Previous() (fsm.StateEvent[T, S], bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.previous == nil {
		return fsm.StateEvent[T, S]{}, false
	}
	return *d.previous, true
}

// History returns up to n of the most recent transitions, oldest first. n <= 0
// returns everything recorded.
func (d *Debugger[T, S]) History(n int) []fsm.StateEvent[T, S] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n <= 0 || n > len(d.history) {
		n = len(d.history)
	}
	return slices.Clone(d.history[len(d.history)-n:])
}

// InvokeTrigger fires the trigger with the given name.
func (d *Debugger[T, S]) InvokeTrigger(ctx context.Context, name string) (bool, error) {
	if !d.StateValid() {
		return false, ErrNotRegistered
	}
	if !d.TransitionValid() {
		return false, ErrNoTransitions
	}
	trigger, ok := d.manager.TriggerDomain().Lookup(name)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
	}
	return d.manager.Fire(ctx, trigger)
}

// InvokeChangeState changes the machine to the state with the given name,
// bypassing the transition configuration.
func (d *Debugger[T, S]) InvokeChangeState(ctx context.Context, name string) error {
	if !d.StateValid() {
		return ErrNotRegistered
	}
	state, ok := d.machine.States().Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, name)
	}
	return d.machine.ChangeState(ctx, state)
}

// Transitions returns the transitions configured for the named state.
func (d *Debugger[T, S]) Transitions(state string) []elements.Transition {
	if !d.TransitionValid() {
		return nil
	}
	for _, configuration := range d.manager.ConfigurationList() {
		if configuration.StateName() == state {
			return configuration.Transitions()
		}
	}
	return nil
}

// Model returns the introspection view of the attached manager.
func (d *Debugger[T, S]) Model() (elements.Model, error) {
	if !d.TransitionValid() {
		return nil, ErrNoTransitions
	}
	return d.manager, nil
}

// Diagram writes the PlantUML diagram of the attached manager.
func (d *Debugger[T, S]) Diagram(w io.Writer) error {
	model, err := d.Model()
	if err != nil {
		return err
	}
	return plantuml.Generate(w, model)
}
