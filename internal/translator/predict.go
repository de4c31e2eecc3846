package translator

import (
	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

const (
	// PredictStateEventName names the custom event announcing state predictions.
	PredictStateEventName = "PredictState"
	// ConfirmToolName is the client tool asked to confirm predicted changes.
	ConfirmToolName = "confirm_changes"
)

// PredictStateMapping declares that a tool argument predicts a state key, so
// the client can update its state while the call streams.
type PredictStateMapping struct {
	StateKey        string `yaml:"state_key" json:"state_key"`
	Tool            string `yaml:"tool" json:"tool"`
	ToolArgument    string `yaml:"tool_argument" json:"tool_argument"`
	EmitConfirmTool bool   `yaml:"emit_confirm_tool" json:"-"`
}

func (t *Translator) mappingsFor(tool string) []PredictStateMapping {
	var out []PredictStateMapping
	for _, m := range t.opts.PredictState {
		if m.Tool == tool {
			out = append(out, m)
		}
	}
	return out
}

// maybePredictState tags id as predictive and announces the tool's mappings
// the first time the tool is seen.
func (t *Translator) maybePredictState(tool, id string) {
	if tool == "" {
		return
	}
	mappings := t.mappingsFor(tool)
	if len(mappings) == 0 {
		return
	}
	t.predictiveIDs[id] = true
	if t.predictEmitted[tool] {
		return
	}
	t.predictEmitted[tool] = true
	t.emit(events.NewCustomEvent(PredictStateEventName, events.WithValue(mappings)))
}

// queueConfirm defers one confirm_changes call per tool until the stream ends.
func (t *Translator) queueConfirm(tool string) {
	if tool == "" || t.confirmQueued[tool] {
		return
	}
	confirm := false
	for _, m := range t.mappingsFor(tool) {
		confirm = confirm || m.EmitConfirmTool
	}
	if !confirm {
		return
	}
	t.confirmQueued[tool] = true

	id := events.GenerateToolCallID()
	t.deferred = append(t.deferred,
		events.NewToolCallStartEvent(id, ConfirmToolName, events.WithParentMessageID(events.GenerateMessageID())),
		events.NewToolCallArgsEvent(id, "{}"),
		events.NewToolCallEndEvent(id),
	)
}
