// Package scenario plays scripted trigger and state change sequences against
// a machine. Scripts are YAML documents:
//
//	name: reset
//	steps:
//	  - fire: AtoB
//	    expect: B
//	  - wait: 1.5s
//	  - change: NotAffectedByGlobal
//	  - fire: AlltoA
//	    expect: NotAffectedByGlobal
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/stateforward/fsm.go"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidStep     = errors.New("invalid step")
	ErrUnexpectedState = errors.New("unexpected state")
)

// Driver invokes triggers and state changes by name. *debugger.Debugger
// implements it.
type Driver interface {
	InvokeTrigger(ctx context.Context, name string) (bool, error)
	InvokeChangeState(ctx context.Context, name string) error
	CurrentStateName() string
}

// Step does exactly one of Fire, Change or Wait. Expect, when set, is the
// state the machine must be in afterwards.
type Step struct {
	Fire   string        `yaml:"fire,omitempty"`
	Change string        `yaml:"change,omitempty"`
	Wait   time.Duration `yaml:"wait,omitempty"`
	Expect string        `yaml:"expect,omitempty"`
}

func (s Step) validate() error {
	actions := 0
	for _, set := range []bool{s.Fire != "", s.Change != "", s.Wait != 0} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("%w: want one of fire, change or wait, got %d", ErrInvalidStep, actions)
	}
	if s.Wait < 0 {
		return fmt.Errorf("%w: negative wait %s", ErrInvalidStep, s.Wait)
	}
	return nil
}

func (s Step) String() string {
	switch {
	case s.Fire != "":
		return "fire " + s.Fire
	case s.Change != "":
		return "change " + s.Change
	}
	return "wait " + s.Wait.String()
}

type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Validate checks every step.
func (s *Script) Validate() error {
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Load decodes and validates a script.
func Load(r io.Reader) (*Script, error) {
	var script Script
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&script); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

// LoadFile loads the script at path.
func LoadFile(path string) (*Script, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	script, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return script, nil
}

// Result is the outcome of one played step.
type Result struct {
	Step    Step
	Changed bool
	State   string
}

// Play runs the script's steps in order and stops at the first error.
func Play(ctx context.Context, driver Driver, script *Script, logger *slog.Logger) ([]Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	results := make([]Result, 0, len(script.Steps))
	for i, step := range script.Steps {
		if err := step.validate(); err != nil {
			return results, fmt.Errorf("step %d: %w", i, err)
		}
		result := Result{Step: step}
		var err error
		switch {
		case step.Fire != "":
			result.Changed, err = driver.InvokeTrigger(ctx, step.Fire)
		case step.Change != "":
			before := driver.CurrentStateName()
			err = driver.InvokeChangeState(ctx, step.Change)
			result.Changed = err == nil && before != driver.CurrentStateName()
		default:
			err = fsm.Wait(ctx, step.Wait)
		}
		if err != nil {
			return results, fmt.Errorf("step %d %s: %w", i, step, err)
		}
		result.State = driver.CurrentStateName()
		logger.Debug("scenario: step", "script", script.Name, "step", step.String(), "changed", result.Changed, "state", result.State)
		results = append(results, result)
		if step.Expect != "" && step.Expect != result.State {
			return results, fmt.Errorf("step %d %s: %w: want %s, got %s", i, step, ErrUnexpectedState, step.Expect, result.State)
		}
	}
	return results, nil
}
