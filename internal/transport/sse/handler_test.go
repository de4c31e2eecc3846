package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/transport"
)

type fakeRunner struct {
	in     *agui.RunAgentInput
	userID string
	events []events.Event
}

func (f *fakeRunner) Run(_ context.Context, in *agui.RunAgentInput, userID string) <-chan events.Event {
	f.in = in
	f.userID = userID
	out := make(chan events.Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out
}

const validBody = `{"threadId":"t1","runId":"r1","messages":[{"id":"m1","role":"user","content":"hi"}]}`

func textRun() []events.Event {
	return []events.Event{
		events.NewRunStartedEvent("t1", "r1"),
		events.NewTextMessageStartEvent("msg1", events.WithRole("assistant")),
		events.NewTextMessageContentEvent("msg1", "Hello"),
		events.NewTextMessageEndEvent("msg1"),
		events.NewRunFinishedEvent("t1", "r1"),
	}
}

// dataFrames decodes every "data:" frame of an SSE body.
func dataFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestHandler_StreamsRunEvents(t *testing.T) {
	runner := &fakeRunner{events: textRun()}
	h := NewHandler(runner, nil)

	req := httptest.NewRequest(http.MethodPost, "/sse", strings.NewReader(validBody))
	req.Header.Set(transport.UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := dataFrames(t, rec.Body.String())
	require.Len(t, frames, 5)
	var types []string
	for _, f := range frames {
		types = append(types, f["type"].(string))
	}
	assert.Equal(t, []string{
		string(events.EventTypeRunStarted),
		string(events.EventTypeTextMessageStart),
		string(events.EventTypeTextMessageContent),
		string(events.EventTypeTextMessageEnd),
		string(events.EventTypeRunFinished),
	}, types)
	assert.Equal(t, "Hello", frames[2]["delta"])

	require.NotNil(t, runner.in)
	assert.Equal(t, "t1", runner.in.ThreadID)
	assert.Equal(t, "alice", runner.userID)
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{"threadId":`, "Invalid request body"},
		{"missing thread", `{"messages":[{"id":"m1","role":"user","content":"hi"}]}`, "threadId"},
		{"no messages", `{"threadId":"t1","messages":[]}`, "no messages"},
		{"bad role", `{"threadId":"t1","messages":[{"id":"m1","role":"robot","content":"hi"}]}`, "invalid 'role'"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{}
			h := NewHandler(runner, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sse", strings.NewReader(tc.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
			assert.Nil(t, runner.in, "runner must not be invoked")
		})
	}
}

func TestHandler_Preflight(t *testing.T) {
	h := NewHandler(&fakeRunner{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/sse", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), transport.UserIDHeader)
	assert.Empty(t, rec.Body.String())
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(&fakeRunner{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
