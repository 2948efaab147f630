package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/stateforward/fsm.go/muid"
)

// Status is the lifecycle phase of a Machine.
type Status int

const (
	Uninitialized Status = iota
	Steady
	Transitioning
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Steady:
		return "steady"
	case Transitioning:
		return "transitioning"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Change is the state change a lifecycle action runs for.
type Change[S comparable] struct {
	From S
	To   S
}

// Self reports whether the change exits and re-enters the same state.
func (c Change[S]) Self() bool {
	return c.From == c.To
}

// Action is an entry, exit or activity behavior of a state.
//
// Entry and exit actions run on the goroutine that changes state, with that
// caller's context. Activities run on their own goroutine and must return
// once ctx is done, releasing whatever they acquired.
type Action[S comparable] func(ctx context.Context, change Change[S])

type taskKey struct{}

// task is a running activity.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Machine owns the current state and runs lifecycle actions. Only
// Initialize and ChangeState modify the current state.
//
// ChangeState, and the Fire calls that lead to it, are meant to be driven from
// one goroutine. CurrentState, Status and AfterEnter may be called from any
// goroutine.
type Machine[S comparable] struct {
	id             string
	name           string
	states         Domain[S]
	logger         *slog.Logger
	ids            muid.Source
	selfTransition bool
	timeout        time.Duration
	context        context.Context

	mu         sync.RWMutex
	status     Status
	current    S
	pending    S
	generation uint64
	active     *task
	stale      []*task
	entry      map[S][]Action[S]
	exit       map[S][]Action[S]
	activities map[S][]Action[S]
}

// New creates an uninitialized machine over states.
func New[S comparable](states Domain[S], maybeConfig ...Config) *Machine[S] {
	sm := &Machine[S]{
		states:     states,
		logger:     slog.Default(),
		ids:        muid.Native(),
		context:    context.Background(),
		entry:      map[S][]Action[S]{},
		exit:       map[S][]Action[S]{},
		activities: map[S][]Action[S]{},
	}
	if len(maybeConfig) > 0 {
		config := maybeConfig[0]
		sm.id = config.ID
		sm.name = config.Name
		sm.selfTransition = config.EnableSelfTransition
		sm.timeout = config.LifecycleTimeout
		if config.Logger != nil {
			sm.logger = config.Logger
		}
		if config.IDs != nil {
			sm.ids = config.IDs
		}
	}
	if sm.name == "" {
		sm.name = "fsm"
	}
	if sm.id == "" {
		sm.id = fmt.Sprintf("%s_%s", sm.name, sm.ids())
	}
	sm.logger = sm.logger.With("fsm", sm.id)
	return sm
}

// Initialize creates a machine over states that starts in initial. No entry
// behavior runs for the initial state.
//
// Example:
//
//	sm, err := fsm.Initialize(fsm.Enumerate(A, B), A, false, fsm.Config{Name: "door"})
func Initialize[S comparable](states Domain[S], initial S, enableSelfTransition bool, maybeConfig ...Config) (*Machine[S], error) {
	var config Config
	if len(maybeConfig) > 0 {
		config = maybeConfig[0]
	}
	config.EnableSelfTransition = enableSelfTransition
	sm := New(states, config)
	if err := sm.Initialize(initial); err != nil {
		return nil, err
	}
	return sm, nil
}

// Initialize moves an uninitialized machine to initial without running any
// lifecycle action.
func (sm *Machine[S]) Initialize(initial S) error {
	if sm == nil {
		return ErrNilMachine
	}
	if !sm.states.Contains(initial) {
		return fmt.Errorf("%w: %v", ErrInvalidState, initial)
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.status != Uninitialized {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, sm.id)
	}
	sm.current = initial
	sm.status = Steady
	sm.logger.Debug("fsm: initialized", "state", sm.states.Name(initial))
	return nil
}

func (sm *Machine[S]) ID() string { return sm.id }

func (sm *Machine[S]) Name() string { return sm.name }

// States returns the state domain.
func (sm *Machine[S]) States() Domain[S] { return sm.states }

// SelfTransitionEnabled reports whether ChangeState to the current state
// re-runs its lifecycle.
func (sm *Machine[S]) SelfTransitionEnabled() bool { return sm.selfTransition }

// CurrentState returns the last committed state. ok is false before Initialize.
func (sm *Machine[S]) CurrentState() (state S, ok bool) {
	if sm == nil {
		return state, false
	}
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current, sm.status != Uninitialized
}

func (sm *Machine[S]) Status() Status {
	if sm == nil {
		return Uninitialized
	}
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.status
}

// Pending returns the target of the state change in progress.
func (sm *Machine[S]) Pending() (state S, ok bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.pending, sm.status == Transitioning
}

// Entry registers actions run, in order, right after state is committed.
func (sm *Machine[S]) Entry(state S, actions ...Action[S]) error {
	return sm.register(sm.entry, state, actions)
}

// Exit registers actions run, in order, before the machine leaves state.
func (sm *Machine[S]) Exit(state S, actions ...Action[S]) error {
	return sm.register(sm.exit, state, actions)
}

// Activity registers long running entry actions. They start after the entry
// actions, run one after the other on their own goroutine, and are cancelled
// by the next state change.
func (sm *Machine[S]) Activity(state S, actions ...Action[S]) error {
	return sm.register(sm.activities, state, actions)
}

func (sm *Machine[S]) register(table map[S][]Action[S], state S, actions []Action[S]) error {
	if sm == nil {
		return ErrNilMachine
	}
	if !sm.states.Contains(state) {
		return fmt.Errorf("%w: %v", ErrInvalidState, state)
	}
	for _, action := range actions {
		if action == nil {
			return fmt.Errorf("%w: state %v", ErrMissingAction, state)
		}
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	table[state] = append(table[state], actions...)
	return nil
}

func (sm *Machine[S]) actions(table map[S][]Action[S], state S) []Action[S] {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Clone(table[state])
}

// ChangeState moves the machine to target.
//
// Changing to the current state does nothing unless self transitions are
// enabled. Otherwise the running activity is cancelled and awaited, the exit
// actions of the current state run, target is committed, and the entry
// actions and activities of target start.
func (sm *Machine[S]) ChangeState(ctx context.Context, target S) error {
	_, err := sm.changeState(ctx, target, nil)
	return err
}

// changeState reports whether target was committed. committed, when set,
// runs right after the commit and before the entry actions. An entry action
// panic is reported after the commit.
func (sm *Machine[S]) changeState(ctx context.Context, target S, committed func()) (bool, error) {
	if sm == nil {
		return false, ErrNilMachine
	}
	if !sm.states.Contains(target) {
		return false, fmt.Errorf("%w: %v", ErrInvalidState, target)
	}
	sm.mu.Lock()
	switch {
	case sm.status == Uninitialized:
		sm.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUninitialized, sm.id)
	case sm.status == Transitioning:
		sm.mu.Unlock()
		return false, fmt.Errorf("%w: to %v", ErrTransitioning, sm.pending)
	case sm.current == target && !sm.selfTransition:
		sm.mu.Unlock()
		return false, nil
	}
	change := Change[S]{From: sm.current, To: target}
	previous := sm.active
	sm.active = nil
	sm.status = Transitioning
	sm.pending = target
	sm.mu.Unlock()

	if previous != nil {
		previous.cancel()
		if owner, _ := ctx.Value(taskKey{}).(*task); owner == previous {
			// the activity is changing state itself
			ctx = context.WithoutCancel(ctx)
			sm.track(previous)
		} else if timedOut, err := sm.await(ctx, previous, change); err != nil {
			sm.abort(previous)
			return false, err
		} else if timedOut {
			sm.track(previous)
		}
	}

	if err := sm.run(ctx, sm.actions(sm.exit, change.From), change, "exit"); err != nil {
		sm.abort(nil)
		return false, err
	}

	var zero S
	sm.mu.Lock()
	sm.current = target
	sm.pending = zero
	sm.status = Steady
	sm.generation++
	generation := sm.generation
	sm.mu.Unlock()
	sm.logger.Debug("fsm: state changed", "from", sm.states.Name(change.From), "to", sm.states.Name(target))
	if committed != nil {
		committed()
	}

	if err := sm.run(ctx, sm.actions(sm.entry, target), change, "entry"); err != nil {
		return true, err
	}
	activities := sm.actions(sm.activities, target)
	if len(activities) == 0 {
		return true, nil
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.generation != generation || sm.active != nil {
		// an entry action already moved the machine on
		return true, nil
	}
	sm.active = sm.start(change, activities)
	return true, nil
}

// abort returns a machine that failed to leave its state to Steady. A
// cancelled activity that has not returned yet stays tracked so the next
// state change waits for it again.
func (sm *Machine[S]) abort(previous *task) {
	var zero S
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.status = Steady
	sm.pending = zero
	if sm.active == nil {
		sm.active = previous
	}
}

// await waits for a cancelled activity. It reports whether LifecycleTimeout
// expired first.
func (sm *Machine[S]) await(ctx context.Context, previous *task, change Change[S]) (bool, error) {
	var timeout <-chan time.Time
	if sm.timeout > 0 {
		timer := time.NewTimer(sm.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-previous.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timeout:
		sm.logger.Warn("fsm: cancelled activity did not return in time",
			"state", sm.states.Name(change.From), "timeout", sm.timeout)
		return true, nil
	}
}

// track keeps a cancelled activity that is still running. Activities started
// later wait for it to return first.
func (sm *Machine[S]) track(t *task) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stale = append(sm.stale, t)
}

// unwinding drops returned stale activities and copies the rest. sm.mu must
// be held.
func (sm *Machine[S]) unwinding() []*task {
	sm.stale = slices.DeleteFunc(sm.stale, func(t *task) bool {
		select {
		case <-t.done:
			return true
		default:
			return false
		}
	})
	return slices.Clone(sm.stale)
}

func (sm *Machine[S]) run(ctx context.Context, actions []Action[S], change Change[S], phase string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sm.logger.Error("fsm: panic in "+phase+" action", "error", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s %v -> %v: %v", ErrActionPanicked, phase, change.From, change.To, r)
		}
	}()
	for _, action := range actions {
		action(ctx, change)
	}
	return nil
}

// start runs activities on a new goroutine once every stale activity has
// returned. sm.mu must be held.
func (sm *Machine[S]) start(change Change[S], activities []Action[S]) *task {
	t := &task{done: make(chan struct{})}
	t.ctx, t.cancel = context.WithCancel(context.WithValue(sm.context, taskKey{}, t))
	stale := sm.unwinding()
	go func() {
		defer close(t.done)
		defer t.cancel()
		defer func() {
			if r := recover(); r != nil {
				sm.logger.Error("fsm: panic in activity", "state", sm.states.Name(change.To), "error", r, "stack", string(debug.Stack()))
			}
		}()
		for _, previous := range stale {
			select {
			case <-previous.done:
			case <-t.ctx.Done():
				return
			}
		}
		for _, activity := range activities {
			if t.ctx.Err() != nil {
				return
			}
			activity(t.ctx, change)
		}
	}()
	return t
}

// AfterEnter returns a channel closed once the activities of the current
// state have returned, whether they finished or were cancelled.
func (sm *Machine[S]) AfterEnter() <-chan struct{} {
	if sm == nil {
		return closedChannel
	}
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.active == nil {
		return closedChannel
	}
	return sm.active.done
}

// Stop cancels the running activity and waits for it, and for any earlier
// cancelled activity still running, to return. The current state is kept.
func (sm *Machine[S]) Stop(ctx context.Context) error {
	if sm == nil {
		return ErrNilMachine
	}
	sm.mu.Lock()
	active := sm.active
	tasks := sm.unwinding()
	sm.mu.Unlock()
	if active != nil {
		active.cancel()
		tasks = append(tasks, active)
	}
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if active != nil && sm.active == active {
		sm.active = nil
	}
	sm.unwinding()
	return nil
}

// Wait suspends a multi-step action for d. It returns ctx.Err() as soon as
// the action is cancelled.
//
// Example:
//
//	sm.Activity(B, func(ctx context.Context, _ fsm.Change[State]) {
//	    paint(yellow)
//	    if fsm.Wait(ctx, time.Second) != nil {
//	        return
//	    }
//	    paint(blue)
//	})
func Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
