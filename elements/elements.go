// Package elements describes a configured state machine through read-only,
// string-typed views. Debugging tools and renderers depend on these
// interfaces instead of the generic engine types, so one tool can inspect
// machines over any state and trigger domain.
package elements

// Element is anything with a kind from package kind.
type Element interface {
	Kind() uint64
}

// Transition is one configured edge.
type Transition interface {
	Element
	// FromName is "*" for global transitions.
	FromName() string
	ToName() string
	TriggerName() string
	HasGuard() bool
}

// Configuration is the ordered list of transitions leaving one state.
type Configuration interface {
	Element
	StateName() string
	Transitions() []Transition
	// Suppressed lists the global triggers removed for this state.
	Suppressed() []string
}

// Model is the whole configured machine.
type Model interface {
	Element
	ID() string
	StateNames() []string
	TriggerNames() []string
	ConfigurationList() []Configuration
	GlobalConfiguration() Configuration
	// CurrentStateName is empty until the machine is initialized.
	CurrentStateName() string
}
