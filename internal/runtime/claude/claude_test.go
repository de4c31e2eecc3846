package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/execution"
	"agui-bridge/internal/proxytool"
	"agui-bridge/internal/runtime"
	"agui-bridge/internal/translator"
)

const messageStart = `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`

var textResponse = []string{
	messageStart,
	`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`,
	`{"type":"content_block_stop","index":0}`,
	`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}`,
	`{"type":"message_stop"}`,
}

var thinkingResponse = []string{
	messageStart,
	`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"The user greets me."}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig"}}`,
	`{"type":"content_block_stop","index":0}`,
	`{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hi!"}}`,
	`{"type":"content_block_stop","index":1}`,
	`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}`,
	`{"type":"message_stop"}`,
}

var toolUseResponse = []string{
	messageStart,
	`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
	`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me ask."}}`,
	`{"type":"content_block_stop","index":0}`,
	`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"pick_color","input":{}}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"reason\": "}}`,
	`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"theme\"}"}}`,
	`{"type":"content_block_stop","index":1}`,
	`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":20}}`,
	`{"type":"message_stop"}`,
}

var colorTool = agui.Tool{
	Name:        "pick_color",
	Description: "Ask the user to pick a color",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"reason": map[string]any{"type": "string"}},
		"required":   []any{"reason"},
	},
}

func parseEvents(t *testing.T, lines []string) []anthropic.MessageStreamEventUnion {
	t.Helper()
	out := make([]anthropic.MessageStreamEventUnion, 0, len(lines))
	for _, line := range lines {
		var ev anthropic.MessageStreamEventUnion
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		out = append(out, ev)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []translator.Event
}

func (s *recordingSink) Publish(ev translator.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) snapshot() []translator.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]translator.Event(nil), s.events...)
}

func mapAll(t *testing.T, lines []string) ([]translator.Event, anthropic.Message) {
	t.Helper()
	sink := &recordingSink{}
	m := newStreamMapper(sink, Author, nil)
	for _, ev := range parseEvents(t, lines) {
		require.NoError(t, m.handle(ev))
	}
	msg, err := m.finish()
	require.NoError(t, err)
	return sink.snapshot(), msg
}

// -------------------- Stream Mapping Tests --------------------

func TestStreamMapper_TextDeltasThenFinal(t *testing.T) {
	evs, msg := mapAll(t, textResponse)

	require.Len(t, evs, 3)
	assert.Equal(t, translator.PhaseDelta, evs[0].Phase)
	assert.Equal(t, []translator.Item{translator.Text{Text: "Hello"}}, evs[0].Items)
	assert.Equal(t, []translator.Item{translator.Text{Text: " there"}}, evs[1].Items)

	final := evs[2]
	assert.Equal(t, translator.PhaseFinal, final.Phase)
	assert.True(t, final.TurnComplete)
	assert.Equal(t, "end_turn", final.FinishReason)
	assert.Equal(t, []translator.Item{translator.Text{Text: "Hello there"}}, final.Items)
	assert.Equal(t, anthropic.StopReasonEndTurn, msg.StopReason)
}

func TestStreamMapper_Thinking(t *testing.T) {
	evs, _ := mapAll(t, thinkingResponse)

	require.Len(t, evs, 3)
	assert.Equal(t, []translator.Item{translator.Thought{Text: "The user greets me."}}, evs[0].Items)
	assert.Equal(t, []translator.Item{translator.Text{Text: "Hi!"}}, evs[1].Items)
	assert.Equal(t, []translator.Item{translator.Text{Text: "Hi!"}}, evs[2].Items)
}

func TestStreamMapper_ToolUse(t *testing.T) {
	evs, msg := mapAll(t, toolUseResponse)

	last := evs[len(evs)-1]
	assert.Equal(t, translator.PhaseComplete, last.Phase)
	assert.False(t, last.TurnComplete)
	assert.Equal(t, "tool_use", last.FinishReason)
	assert.Equal(t, []translator.Item{
		translator.Text{Text: "Let me ask."},
		translator.FunctionCall{ID: "toolu_1", Name: "pick_color", Args: map[string]any{"reason": "theme"}},
	}, last.Items)
	assert.Equal(t, anthropic.StopReasonToolUse, msg.StopReason)
}

func TestStreamMapper_TranslatesToProtocol(t *testing.T) {
	tr := translator.New(translator.Options{})
	evs, _ := mapAll(t, textResponse)
	var types []string
	for _, ev := range evs {
		for _, out := range tr.Translate(ev, "thread", "run") {
			types = append(types, string(out.Type()))
		}
	}
	assert.Equal(t, []string{"TEXT_MESSAGE_START", "TEXT_MESSAGE_CONTENT", "TEXT_MESSAGE_CONTENT", "TEXT_MESSAGE_END"}, types)
}

// -------------------- Message Conversion Tests --------------------

func TestConvertMessages(t *testing.T) {
	in := &agui.RunAgentInput{
		Context: []agui.ContextItem{{Description: "page", Value: "settings"}},
		Messages: []agui.Message{
			{ID: "s", Role: agui.RoleSystem, Content: "Be brief."},
			{ID: "u1", Role: agui.RoleUser, Content: "pick a color"},
			{ID: "a1", Role: agui.RoleAssistant, ToolCalls: []agui.ToolCall{
				{ID: "c1", Type: "function", Function: agui.FunctionCall{Name: "pick_color", Arguments: `{"reason":"theme"}`}},
				{ID: "c2", Type: "function", Function: agui.FunctionCall{Name: "pick_color"}},
			}},
			{ID: "t1", Role: agui.RoleTool, ToolCallID: "c1", Content: `{"color":"red"}`},
			{ID: "t2", Role: agui.RoleTool, ToolCallID: "c2", Error: "dismissed"},
			{ID: "u2", Role: agui.RoleUser, Content: "thanks"},
			{ID: "empty", Role: agui.RoleUser, Content: ""},
		},
	}

	msgs, system := convertMessages(in, "You help with colors.")

	require.Len(t, system, 3)
	assert.Equal(t, "You help with colors.", system[0].Text)
	assert.Equal(t, "page: settings", system[1].Text)
	assert.Equal(t, "Be brief.", system[2].Text)

	require.Len(t, msgs, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Content, 2)
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, "c1", msgs[1].Content[0].OfToolUse.ID)
	assert.Equal(t, map[string]any{"reason": "theme"}, msgs[1].Content[0].OfToolUse.Input)
	assert.Equal(t, map[string]any{}, msgs[1].Content[1].OfToolUse.Input)

	// tool results and the next user text share one user turn
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.Len(t, msgs[2].Content, 3)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "c1", msgs[2].Content[0].OfToolResult.ToolUseID)
	require.NotNil(t, msgs[2].Content[1].OfToolResult)
	assert.True(t, msgs[2].Content[1].OfToolResult.IsError.Value)
	require.NotNil(t, msgs[2].Content[2].OfText)
	assert.Equal(t, "thanks", msgs[2].Content[2].OfText.Text)
}

func TestConvertTools(t *testing.T) {
	assert.Nil(t, convertTools(nil))

	tools := convertTools([]proxytool.Definition{{Name: colorTool.Name, Description: colorTool.Description, Parameters: colorTool.Parameters}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "pick_color", tools[0].OfTool.Name)
	assert.Equal(t, "Ask the user to pick a color", tools[0].OfTool.Description.Value)
	assert.Equal(t, []string{"reason"}, tools[0].OfTool.InputSchema.Required)
	assert.Equal(t, colorTool.Parameters["properties"], tools[0].OfTool.InputSchema.Properties)
}

func TestResultContent(t *testing.T) {
	assert.Equal(t, "", resultContent(nil))
	assert.Equal(t, "blue", resultContent("blue"))
	assert.Equal(t, `{"color":"blue"}`, resultContent(map[string]any{"color": "blue"}))
}

// -------------------- Runtime Tests --------------------

// fakeAPI serves scripted SSE responses in order and records request bodies.
type fakeAPI struct {
	mu        sync.Mutex
	responses [][]string
	bodies    []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, string(body))
	var lines []string
	if len(f.responses) > 0 {
		lines = f.responses[0]
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()

	if lines == nil {
		http.Error(w, `{"type":"error","error":{"type":"invalid_request_error","message":"no response"}}`, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, line := range lines {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(line), &head)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, line)
	}
}

func (f *fakeAPI) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

func newTestRuntime(t *testing.T, api *fakeAPI) *Runtime {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return New(Config{Instruction: "Be helpful."},
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
}

func userInput(tools ...agui.Tool) *agui.RunAgentInput {
	return &agui.RunAgentInput{
		ThreadID: "thread-1",
		RunID:    "run-1",
		Messages: []agui.Message{{ID: "u1", Role: agui.RoleUser, Content: "hi"}},
		Tools:    tools,
	}
}

func TestRuntime_TextTurn(t *testing.T) {
	api := &fakeAPI{responses: [][]string{textResponse}}
	rt := newTestRuntime(t, api)
	sink := &recordingSink{}

	err := rt.Run(context.Background(), runtime.RunRequest{ThreadID: "thread-1", RunID: "run-1", Input: userInput()}, sink)
	require.NoError(t, err)

	evs := sink.snapshot()
	require.Len(t, evs, 3)
	assert.Equal(t, translator.PhaseFinal, evs[2].Phase)

	reqs := api.requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0], `"stream":true`)
	assert.Contains(t, reqs[0], "Be helpful.")
}

func TestRuntime_NoMessages(t *testing.T) {
	rt := newTestRuntime(t, &fakeAPI{})
	err := rt.Run(context.Background(), runtime.RunRequest{Input: &agui.RunAgentInput{}}, &recordingSink{})
	assert.ErrorIs(t, err, agui.ErrNoMessages)

	err = rt.Run(context.Background(), runtime.RunRequest{}, &recordingSink{})
	assert.ErrorIs(t, err, agui.ErrNoMessages)
}

func TestRuntime_APIErrorFailsRun(t *testing.T) {
	rt := newTestRuntime(t, &fakeAPI{})
	err := rt.Run(context.Background(), runtime.RunRequest{Input: userInput()}, &recordingSink{})
	assert.ErrorContains(t, err, "claude stream error")
}

func TestRuntime_BlockingClientTool(t *testing.T) {
	api := &fakeAPI{responses: [][]string{toolUseResponse, textResponse}}
	rt := newTestRuntime(t, api)

	exec := execution.New(context.Background(), "thread-1", "run-1", nil)
	in := userInput(colorTool)
	tools := proxytool.NewToolset(exec, translator.NewCallSet(), in.ToolDefinitions(), proxytool.Options{Timeout: time.Minute})
	defer tools.Close()

	// answer the call once the proxy suspends the stream
	go func() {
		for it := range exec.Queue() {
			if s, ok := it.(execution.Sentinel); ok && s.Paused {
				exec.ResolveToolResult("toolu_1", map[string]any{"color": "blue"}, nil)
				return
			}
		}
	}()

	sink := &recordingSink{}
	err := rt.Run(context.Background(), runtime.RunRequest{ThreadID: "thread-1", RunID: "run-1", Input: in, Tools: tools}, sink)
	require.NoError(t, err)

	var sawResponse bool
	for _, ev := range sink.snapshot() {
		for _, fr := range ev.FunctionResponses() {
			sawResponse = true
			assert.Equal(t, "toolu_1", fr.ID)
			assert.Equal(t, map[string]any{"color": "blue"}, fr.Response)
		}
	}
	assert.True(t, sawResponse)

	reqs := api.requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0], `"name":"pick_color"`)
	assert.Contains(t, reqs[1], `"tool_use_id":"toolu_1"`)
	assert.Contains(t, reqs[1], `{\"color\":\"blue\"}`)
}

func TestRuntime_LongRunningToolResultIsNotPublished(t *testing.T) {
	api := &fakeAPI{responses: [][]string{toolUseResponse, textResponse}}
	rt := newTestRuntime(t, api)

	exec := execution.New(context.Background(), "thread-1", "run-1", nil)
	in := userInput(colorTool)
	announced := translator.NewCallSet()
	tools := proxytool.NewToolset(exec, announced, in.ToolDefinitions(), proxytool.Options{
		Timeout:     time.Minute,
		LongRunning: []string{"pick_color"},
	})
	defer tools.Close()

	sink := &recordingSink{}
	err := rt.Run(context.Background(), runtime.RunRequest{ThreadID: "thread-1", RunID: "run-1", Input: in, Tools: tools}, sink)
	require.NoError(t, err)

	tr := translator.New(translator.Options{ClientTools: tools.ArgNames(), Announced: announced})
	for _, ev := range sink.snapshot() {
		assert.Empty(t, ev.FunctionResponses())
		for _, out := range tr.Translate(ev, "thread-1", "run-1") {
			assert.NotEqual(t, events.EventTypeToolCallResult, out.Type())
		}
	}
	assert.True(t, exec.HasOutstanding(), "the call stays open for the client")

	reqs := api.requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1], `"tool_use_id":"toolu_1"`)
	assert.Contains(t, reqs[1], `pending`)
}

func TestBlockArgs(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Equal(t, map[string]any{"a": "b"}, blockArgs(log, "toolu_1", json.RawMessage(`{"a":"b"}`)))
	assert.Equal(t, map[string]any{}, blockArgs(log, "toolu_1", nil))
	assert.Equal(t, map[string]any{}, blockArgs(log, "toolu_1", json.RawMessage(`null`)))
	assert.Equal(t, map[string]any{}, blockArgs(log, "toolu_1", json.RawMessage(`{"a":`)))
}

func TestBlockArgs_LogsMalformedInput(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	blockArgs(log, "toolu_9", json.RawMessage(`[1,2]`))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "tool_call_id=toolu_9")
}

func TestRuntime_UnknownToolIsReportedToModel(t *testing.T) {
	api := &fakeAPI{responses: [][]string{toolUseResponse, textResponse}}
	rt := newTestRuntime(t, api)

	err := rt.Run(context.Background(), runtime.RunRequest{Input: userInput()}, &recordingSink{})
	require.NoError(t, err)

	reqs := api.requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1], `unknown tool \"pick_color\"`)
	assert.True(t, strings.Contains(reqs[1], `"is_error":true`))
}

func TestRuntime_CancelledToolEndsRun(t *testing.T) {
	api := &fakeAPI{responses: [][]string{toolUseResponse}}
	rt := newTestRuntime(t, api)

	exec := execution.New(context.Background(), "thread-1", "run-1", nil)
	in := userInput(colorTool)
	tools := proxytool.NewToolset(exec, translator.NewCallSet(), in.ToolDefinitions(), proxytool.Options{Timeout: time.Minute})

	go func() {
		for it := range exec.Queue() {
			if s, ok := it.(execution.Sentinel); ok && s.Paused {
				tools.Close()
				return
			}
		}
	}()

	err := rt.Run(context.Background(), runtime.RunRequest{Input: in, Tools: tools}, &recordingSink{})
	assert.ErrorIs(t, err, execution.ErrCancelled)
	assert.Len(t, api.requests(), 1)
}
