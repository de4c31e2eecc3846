package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/config"
	"agui-bridge/internal/transport/connectrpc"
	"agui-bridge/internal/transport/sse"
)

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, in *agui.RunAgentInput, _ string) <-chan events.Event {
	out := make(chan events.Event, 2)
	out <- events.NewRunStartedEvent(in.ThreadID, in.RunID)
	out <- events.NewRunFinishedEvent(in.ThreadID, in.RunID)
	close(out)
	return out
}

const body = `{"threadId":"t1","runId":"r1","messages":[{"id":"m1","role":"user","content":"hi"}]}`

func newTestServer(t *testing.T, logs io.Writer) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	s := New(&config.Config{Port: "0"},
		sse.NewHandler(echoRunner{}, logger),
		connectrpc.NewHandler(echoRunner{}, logger),
		logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_SSEEndpoints(t *testing.T) {
	_, ts := newTestServer(t, io.Discard)

	for _, path := range []string{EndpointSSE, "/"} {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err, path)
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"), path)
		assert.Contains(t, string(data), string(events.EventTypeRunStarted), path)
		assert.Contains(t, string(data), string(events.EventTypeRunFinished), path)
	}
}

func TestServer_ConnectEndpoint(t *testing.T) {
	_, ts := newTestServer(t, io.Discard)

	msg, err := structpb.NewStruct(map[string]any{
		"threadId": "t1",
		"runId":    "r1",
		"messages": []any{map[string]any{"id": "m1", "role": "user", "content": "hi"}},
	})
	require.NoError(t, err)

	client := connect.NewClient[structpb.Struct, structpb.Struct](ts.Client(), ts.URL+connectrpc.RunAgentProcedure)
	stream, err := client.CallServerStream(context.Background(), connect.NewRequest(msg))
	require.NoError(t, err)
	defer stream.Close()

	var types []string
	for stream.Receive() {
		types = append(types, stream.Msg().GetFields()["type"].GetStringValue())
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{string(events.EventTypeRunStarted), string(events.EventTypeRunFinished)}, types)
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, io.Discard)

	resp, err := http.Get(ts.URL + EndpointHealth)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status["status"])
}

func TestServer_UnknownPath(t *testing.T) {
	_, ts := newTestServer(t, io.Discard)

	resp, err := http.Post(ts.URL+"/nope", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, EndpointConnect, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Connect-Protocol-Version")
	assert.False(t, called)
}

func TestLogging_RecordsRequest(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, EndpointSSE, nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, http.MethodPost, entry["method"])
	assert.Equal(t, EndpointSSE, entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, float64(len("short and stout")), entry["bytes"])
}

func TestStatusWriter_Flushes(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}

	require.NoError(t, http.NewResponseController(sw).Flush())
	assert.True(t, rec.Flushed)
	assert.Equal(t, http.StatusOK, sw.statusCode())
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := New(&config.Config{Port: "0"}, sse.NewHandler(echoRunner{}, nil), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.ShutdownTimeout(time.Second))
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
