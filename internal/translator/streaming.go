package translator

import (
	"fmt"
	"strings"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

// translateStreamingCalls handles function calls on delta events.
func (t *Translator) translateStreamingCalls(ev Event, calls []FunctionCall) {
	lro := make(map[string]bool, len(ev.LongRunningToolIDs))
	for _, id := range ev.LongRunningToolIDs {
		lro[id] = true
	}
	for _, fc := range calls {
		if fc.ID != "" && (lro[fc.ID] || t.opts.Announced.Has(fc.ID)) {
			continue
		}
		if t.isClientTool(fc.Name) && !t.opts.StreamingArgs {
			continue
		}
		if t.isStreamingCall(fc) {
			t.translateStreamingCall(fc)
		}
	}
}

// isStreamingCall decides whether a delta function call belongs to an
// argument stream.
func (t *Translator) isStreamingCall(fc FunctionCall) bool {
	hasArgs := fc.Args != nil
	if t.opts.StreamingArgs {
		switch {
		case len(fc.Fragments) > 0:
			return true
		case fc.Name != "" && fc.WillContinue && !hasArgs:
			return true
		case fc.Name == "" && fc.WillContinue && !hasArgs && t.activeStreamID == "":
			return true
		case fc.Name == "" && t.activeStreamID != "":
			return true
		}
	}
	_, tracked := t.streams[fc.ID]
	return hasArgs && (fc.WillContinue || tracked || fc.Name != "")
}

func (t *Translator) translateStreamingCall(fc FunctionCall) {
	id := fc.ID
	if fc.Name == "" && t.activeStreamID != "" {
		id = t.activeStreamID
	} else if id == "" {
		id = events.GenerateToolCallID()
	}

	st, ok := t.streams[id]
	if !ok {
		if fc.Name == "" && !t.opts.StreamingArgs {
			t.log.Debug("ignoring stray function call chunk", "tool_call_id", id)
			return
		}
		st = newToolStream(id, fc.Name)
		t.streams[id] = st
		t.activeStreamID = id
		if fc.Name != "" {
			t.startToolStream(st, fc.Name)
		}
	}

	if !st.started() && (len(fc.Fragments) > 0 || fc.Args != nil) {
		t.startToolStream(st, t.inferToolName(argNames(fc)))
	}

	switch {
	case len(fc.Fragments) > 0:
		t.streamFragments(st, fc.Fragments)
	case fc.Args != nil:
		t.streamAccumulated(st, fc.Args)
	}

	if !fc.WillContinue {
		t.finishToolStream(st)
	}
}

func (t *Translator) startToolStream(st *toolStream, name string) {
	if st.started() {
		return
	}
	st.name = name
	t.closeThinking()
	t.forceCloseText()
	t.maybePredictState(name, st.id)
	t.emit(events.NewToolCallStartEvent(st.id, name))
	st.state = transition(st.state, stateStreaming)
}

// streamFragments emits JSON-path fragments so that the concatenated deltas
// form one JSON object with a string member per path.
func (t *Translator) streamFragments(st *toolStream, fragments []ArgFragment) {
	for _, fr := range fragments {
		if fr.JSONPath != "" && !st.startedPaths[fr.JSONPath] {
			key := strings.TrimPrefix(fr.JSONPath, "$.")
			prefix := "{"
			if st.openPath != "" {
				prefix = `", `
			}
			value := mustJSONString(fr.Value)
			st.startedPaths[fr.JSONPath] = true
			st.openPath = fr.JSONPath
			t.emit(events.NewToolCallArgsEvent(st.id, prefix+mustJSONString(key)+": "+value[:len(value)-1]))
			continue
		}
		if fr.Value == "" {
			continue
		}
		if fr.JSONPath != "" && fr.JSONPath != st.openPath {
			t.log.Warn("argument fragment for a closed path", "tool_call_id", st.id, "path", fr.JSONPath)
		}
		value := mustJSONString(fr.Value)
		t.emit(events.NewToolCallArgsEvent(st.id, value[1:len(value)-1]))
	}
}

// streamAccumulated emits the growth of the serialized arguments. The
// closing run of quotes and brackets is held back until the stream ends, so
// the deltas concatenate to the final serialization.
func (t *Translator) streamAccumulated(st *toolStream, args map[string]any) {
	full, err := marshalJSON(args)
	if err != nil {
		panic(fmt.Sprintf("failed to encode arguments of tool call %s: %v", st.id, err))
	}
	open := strings.TrimRight(full, `"}]`)

	var delta string
	switch {
	case strings.HasPrefix(open, st.prevOpen):
		delta = open[len(st.prevOpen):]
	case strings.HasPrefix(full, st.prevFull):
		// the held-back tail was released as content
		delta = full[len(st.prevOpen):]
		open = full
	default:
		t.log.Warn("tool call arguments are not a continuation, resending", "tool_call_id", st.id)
		delta = open
	}
	st.prevFull = full
	st.prevOpen = open
	if delta != "" {
		t.emit(events.NewToolCallArgsEvent(st.id, delta))
	}
}

func (t *Translator) finishToolStream(st *toolStream) {
	if !st.started() {
		t.startToolStream(st, t.inferToolName(nil))
	}
	switch {
	case st.openPath != "":
		t.emit(events.NewToolCallArgsEvent(st.id, `"}`))
	case len(st.prevFull) > len(st.prevOpen):
		t.emit(events.NewToolCallArgsEvent(st.id, st.prevFull[len(st.prevOpen):]))
	}
	t.emit(events.NewToolCallEndEvent(st.id))
	st.state = transition(st.state, stateClosing)
	st.state = transition(st.state, stateIdle)

	t.opts.Announced.Add(st.id)
	t.completedStreams[st.id] = true
	if st.name != "" {
		t.lastStreamedName = st.name
		t.lastStreamedID = st.id
	}
	delete(t.streams, st.id)
	if t.activeStreamID == st.id {
		t.activeStreamID = ""
	}
	t.queueConfirm(st.name)
}

// inferToolName picks a client tool for a nameless stream: the only declared
// tool, or the single tool whose arguments cover every observed name.
func (t *Translator) inferToolName(observed []string) string {
	if len(t.opts.ClientTools) == 1 {
		for name := range t.opts.ClientTools {
			return name
		}
	}
	if len(observed) == 0 {
		return ""
	}
	match := ""
	for name, params := range t.opts.ClientTools {
		known := make(map[string]bool, len(params))
		for _, p := range params {
			known[p] = true
		}
		covered := true
		for _, o := range observed {
			if !known[o] {
				covered = false
				break
			}
		}
		if covered {
			if match != "" {
				return ""
			}
			match = name
		}
	}
	return match
}

func argNames(fc FunctionCall) []string {
	var names []string
	for _, fr := range fc.Fragments {
		if fr.JSONPath != "" {
			names = append(names, strings.TrimPrefix(fr.JSONPath, "$."))
		}
	}
	for k := range fc.Args {
		names = append(names, k)
	}
	return names
}

func mustJSONString(s string) string {
	encoded, err := marshalJSON(s)
	if err != nil {
		panic(fmt.Sprintf("failed to encode string: %v", err))
	}
	return encoded
}
