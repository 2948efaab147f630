// Package plantuml renders a configured machine as a PlantUML state diagram.
package plantuml

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/stateforward/fsm.go/elements"
	"github.com/stateforward/fsm.go/kind"
)

// Highlight is the fill color of the current state.
const Highlight = "#LightBlue"

func idFromName(name string) string {
	return strings.NewReplacer(" ", "_", "-", "_", "/", "_", ".", "_", ":", "_").Replace(name)
}

func generateState(builder *strings.Builder, depth int, name string, current string) {
	indent := strings.Repeat(" ", depth*2)
	if name == current {
		fmt.Fprintf(builder, "%sstate %s %s\n", indent, idFromName(name), Highlight)
		return
	}
	fmt.Fprintf(builder, "%sstate %s\n", indent, idFromName(name))
}

func generateTransition(builder *strings.Builder, depth int, source string, transition elements.Transition) {
	label := transition.TriggerName()
	if transition.HasGuard() {
		label = fmt.Sprintf("%s [guard]", label)
	}
	arrow := "-->"
	if kind.Is(transition.Kind(), kind.GlobalTransition) {
		arrow = "..>"
	}
	indent := strings.Repeat(" ", depth*2)
	fmt.Fprintf(builder, "%s%s %s %s : %s\n", indent, idFromName(source), arrow, idFromName(transition.ToName()), label)
}

// ownTriggers returns the triggers configured directly on each state.
func ownTriggers(configurations []elements.Configuration) map[string][]string {
	own := map[string][]string{}
	for _, configuration := range configurations {
		for _, transition := range configuration.Transitions() {
			own[configuration.StateName()] = append(own[configuration.StateName()], transition.TriggerName())
		}
	}
	return own
}

func generateElements(builder *strings.Builder, depth int, model elements.Model) {
	fmt.Fprintf(builder, "@startuml %s\n", idFromName(model.ID()))
	current := model.CurrentStateName()
	states := model.StateNames()
	for _, state := range states {
		generateState(builder, depth+1, state, current)
	}
	if current != "" {
		fmt.Fprintf(builder, "%s[*] --> %s\n", strings.Repeat(" ", (depth+1)*2), idFromName(current))
	}
	configurations := model.ConfigurationList()
	suppressed := map[string][]string{}
	for _, configuration := range configurations {
		suppressed[configuration.StateName()] = configuration.Suppressed()
		for _, transition := range configuration.Transitions() {
			generateTransition(builder, depth+1, configuration.StateName(), transition)
		}
	}
	// global transitions are drawn from every state they apply to
	own := ownTriggers(configurations)
	for _, transition := range model.GlobalConfiguration().Transitions() {
		for _, state := range states {
			if state == transition.ToName() {
				continue
			}
			if slices.Contains(own[state], transition.TriggerName()) || slices.Contains(suppressed[state], transition.TriggerName()) {
				continue
			}
			generateTransition(builder, depth+1, state, transition)
		}
	}
	fmt.Fprintln(builder, "@enduml")
}

// Generate writes the PlantUML diagram of model to writer. Global
// transitions are drawn dotted.
func Generate(writer io.Writer, model elements.Model) error {
	var builder strings.Builder
	generateElements(&builder, 0, model)
	_, err := writer.Write([]byte(builder.String()))
	return err
}
