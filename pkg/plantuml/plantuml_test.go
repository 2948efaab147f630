package plantuml_test

import (
	"strings"
	"testing"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/pkg/plantuml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string

type trigger string

func TestGenerate(t *testing.T) {
	sm, err := fsm.Initialize(fsm.Enumerate[state]("idle", "heating", "door-open"), "idle", false, fsm.Config{ID: "oven"})
	require.NoError(t, err)
	tm := fsm.NewTransitionManager(sm, fsm.Enumerate[trigger]("start", "stop", "open"))
	require.NoError(t, tm.MustConfigure("idle").Permit("start", "heating"))
	require.NoError(t, tm.MustConfigure("heating").PermitIf("stop", "idle", func() bool { return true }))
	require.NoError(t, tm.PermitAll("open", "door-open", fsm.Overwrite))
	require.NoError(t, tm.Remove("heating", "open"))

	var builder strings.Builder
	require.NoError(t, plantuml.Generate(&builder, tm))
	diagram := builder.String()

	assert.True(t, strings.HasPrefix(diagram, "@startuml oven\n"))
	assert.True(t, strings.HasSuffix(diagram, "@enduml\n"))
	assert.Contains(t, diagram, "state idle "+plantuml.Highlight+"\n")
	assert.Contains(t, diagram, "state door_open\n")
	assert.Contains(t, diagram, "[*] --> idle\n")
	assert.Contains(t, diagram, "idle --> heating : start\n")
	assert.Contains(t, diagram, "heating --> idle : stop [guard]\n")
	assert.Contains(t, diagram, "idle ..> door_open : open\n")
	assert.NotContains(t, diagram, "heating ..> door_open")
	assert.NotContains(t, diagram, "door_open ..> door_open")
}

func TestGenerateUninitialized(t *testing.T) {
	sm := fsm.New(fsm.Enumerate[state]("a", "b"), fsm.Config{ID: "m"})
	tm := fsm.NewTransitionManager(sm, fsm.Enumerate[trigger]("go"))
	require.NoError(t, tm.MustConfigure("a").Permit("go", "b"))

	var builder strings.Builder
	require.NoError(t, plantuml.Generate(&builder, tm))
	assert.NotContains(t, builder.String(), "[*]")
	assert.Contains(t, builder.String(), "a --> b : go\n")
}
