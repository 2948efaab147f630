package scenario_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/pkg/debugger"
	"github.com/stateforward/fsm.go/pkg/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reset = `
name: reset
steps:
  - fire: AtoB
    expect: B
  - wait: 1ms
  - change: NotAffectedByGlobal
  - fire: AlltoA
    expect: NotAffectedByGlobal
  - fire: BtoA
  - change: B
  - fire: AlltoA
    expect: A
`

func driver(t *testing.T) *debugger.Debugger[string, string] {
	t.Helper()
	sm, err := fsm.Initialize(fsm.Enumerate("A", "B", "NotAffectedByGlobal"), "A", false)
	require.NoError(t, err)
	tm := fsm.NewTransitionManager(sm, fsm.Enumerate("AtoB", "BtoA", "AlltoA"))
	require.NoError(t, tm.MustConfigure("A").Permit("AtoB", "B"))
	require.NoError(t, tm.MustConfigure("B").Permit("BtoA", "A"))
	require.NoError(t, tm.PermitAll("AlltoA", "A", fsm.Overwrite))
	require.NoError(t, tm.Remove("NotAffectedByGlobal", "AlltoA"))
	return debugger.Register(tm)
}

func TestLoad(t *testing.T) {
	script, err := scenario.Load(strings.NewReader(reset))
	require.NoError(t, err)
	assert.Equal(t, "reset", script.Name)
	require.Len(t, script.Steps, 7)
	assert.Equal(t, "AtoB", script.Steps[0].Fire)
	assert.Equal(t, "B", script.Steps[0].Expect)
	assert.Equal(t, time.Millisecond, script.Steps[1].Wait)
	assert.Equal(t, "NotAffectedByGlobal", script.Steps[2].Change)
}

func TestLoadRejectsInvalidSteps(t *testing.T) {
	_, err := scenario.Load(strings.NewReader("steps:\n  - fire: AtoB\n    change: B\n"))
	assert.ErrorIs(t, err, scenario.ErrInvalidStep)

	_, err = scenario.Load(strings.NewReader("steps:\n  - expect: B\n"))
	assert.ErrorIs(t, err, scenario.ErrInvalidStep)

	_, err = scenario.Load(strings.NewReader("steps:\n  - jump: B\n"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reset.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reset), 0o644))
	script, err := scenario.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, script.Steps, 7)

	_, err = scenario.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPlay(t *testing.T) {
	script, err := scenario.Load(strings.NewReader(reset))
	require.NoError(t, err)
	d := driver(t)
	results, err := scenario.Play(context.Background(), d, script, nil)
	require.NoError(t, err)
	require.Len(t, results, 7)

	changed := make([]bool, len(results))
	for i, result := range results {
		changed[i] = result.Changed
	}
	assert.Equal(t, []bool{true, false, true, false, false, true, true}, changed)
	assert.Equal(t, "A", results[6].State)
	assert.Len(t, d.History(0), 2)
}

func TestPlayUnexpectedState(t *testing.T) {
	script := &scenario.Script{Steps: []scenario.Step{{Fire: "AtoB", Expect: "A"}}}
	results, err := scenario.Play(context.Background(), driver(t), script, nil)
	assert.ErrorIs(t, err, scenario.ErrUnexpectedState)
	require.Len(t, results, 1)
	assert.Equal(t, "B", results[0].State)
}

func TestPlayCancelled(t *testing.T) {
	script := &scenario.Script{Steps: []scenario.Step{{Wait: time.Hour}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scenario.Play(ctx, driver(t), script, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlayUnknownTrigger(t *testing.T) {
	script := &scenario.Script{Steps: []scenario.Step{{Fire: "Jump"}}}
	_, err := scenario.Play(context.Background(), driver(t), script, nil)
	assert.ErrorIs(t, err, debugger.ErrUnknownTrigger)
}
