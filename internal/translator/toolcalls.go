package translator

import (
	"fmt"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

func (t *Translator) isClientTool(name string) bool {
	if name == "" {
		return false
	}
	_, ok := t.opts.ClientTools[name]
	return ok
}

// translateCompleteCalls handles function calls on non-delta events: the
// long-running calls first, then the regular calls that no other path has
// announced.
func (t *Translator) translateCompleteCalls(ev Event, calls []FunctionCall) {
	lro := make(map[string]bool, len(ev.LongRunningToolIDs))
	for _, id := range ev.LongRunningToolIDs {
		lro[id] = true
	}

	for _, fc := range calls {
		if fc.ID != "" && lro[fc.ID] {
			t.translateLongRunning(fc)
		}
	}

	var pending []FunctionCall
	for _, fc := range calls {
		switch {
		case fc.ID != "" && t.longRunning[fc.ID]:
		case fc.ID != "" && t.opts.Announced.Has(fc.ID):
		case t.isClientTool(fc.Name):
		case fc.ID != "" && t.completedStreams[fc.ID]:
		case t.lastStreamedName != "" && fc.Name == t.lastStreamedName:
		default:
			pending = append(pending, fc)
		}
	}

	// The runtime re-sends a streamed call with a fresh id once it is confirmed.
	if t.lastStreamedName != "" {
		for _, fc := range calls {
			if fc.Name == t.lastStreamedName && fc.ID != "" && fc.ID != t.lastStreamedID &&
				!lro[fc.ID] && !t.completedStreams[fc.ID] {
				t.confirmedToID[fc.ID] = t.lastStreamedID
				break
			}
		}
		t.lastStreamedName = ""
		t.lastStreamedID = ""
	}

	if len(pending) == 0 {
		return
	}
	t.closeThinking()
	t.forceCloseText()
	for _, fc := range pending {
		t.emitBufferedCall(fc)
	}
}

// translateLongRunning announces a call the client completes later. Client
// tools announce themselves through their proxy.
func (t *Translator) translateLongRunning(fc FunctionCall) {
	t.longRunning[fc.ID] = true
	if t.isClientTool(fc.Name) || t.opts.Announced.Has(fc.ID) {
		return
	}
	t.closeThinking()
	t.forceCloseText()
	t.emitBufferedCall(fc)
}

func (t *Translator) emitBufferedCall(fc FunctionCall) {
	id := fc.ID
	if id == "" {
		id = events.GenerateToolCallID()
	}
	t.maybePredictState(fc.Name, id)

	args := "{}"
	if fc.Args != nil {
		encoded, err := marshalJSON(fc.Args)
		if err != nil {
			panic(fmt.Sprintf("failed to encode arguments of tool call %s: %v", id, err))
		}
		args = encoded
	}

	t.emit(events.NewToolCallStartEvent(id, fc.Name))
	t.emit(events.NewToolCallArgsEvent(id, args))
	t.emit(events.NewToolCallEndEvent(id))
	t.opts.Announced.Add(id)
	t.queueConfirm(fc.Name)
}

func (t *Translator) translateResponses(responses []FunctionResponse) {
	for _, fr := range responses {
		id := fr.ID
		if streamed, ok := t.confirmedToID[id]; ok {
			delete(t.confirmedToID, id)
			id = streamed
		}
		if id == "" {
			id = events.GenerateToolCallID()
		}
		if t.longRunning[id] {
			t.log.Debug("skipping result of long-running tool", "tool_call_id", id, "tool", fr.Name)
			continue
		}
		if t.predictiveIDs[id] {
			t.log.Debug("skipping result of predictive state tool", "tool_call_id", id, "tool", fr.Name)
			continue
		}
		t.emit(events.NewToolCallResultEvent(events.GenerateMessageID(), id, responseContent(fr.Response)))
	}
}

func responseContent(resp any) string {
	switch v := resp.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	encoded, err := marshalJSON(resp)
	if err != nil {
		return fmt.Sprintf("%v", resp)
	}
	return encoded
}
