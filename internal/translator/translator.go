// Package translator converts normalized agent-runtime events into AG-UI
// protocol events for one execution.
package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

// ThinkingTitle is the title carried by THINKING_START.
const ThinkingTitle = "Model Thinking"

// MetadataEventName names the custom event that forwards runtime metadata.
const MetadataEventName = "adk_metadata"

// CallSet is a concurrency-safe set of tool-call ids announced to the client.
// The translator and the client-tool proxies share one per execution so a
// call is announced exactly once.
type CallSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewCallSet creates an empty set.
func NewCallSet() *CallSet {
	return &CallSet{ids: make(map[string]struct{})}
}

// Add records id.
func (s *CallSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Has reports whether id was recorded.
func (s *CallSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Options configures a Translator.
type Options struct {
	// PredictState declares tools whose arguments map onto client state.
	PredictState []PredictStateMapping
	// StreamingArgs enables token-level streaming of function-call arguments.
	StreamingArgs bool
	// SuffixDedup treats a final response whose text is a suffix of the text
	// streamed in the same run as a duplicate.
	SuffixDedup bool
	// ClientTools maps client-side tool names to their argument names.
	ClientTools map[string][]string
	// Announced is shared with the client-tool proxies. A fresh set is used when nil.
	Announced *CallSet
	Logger    *slog.Logger
}

// Translator holds the per-execution translation state. It is not safe for
// concurrent use; one goroutine drives it for the lifetime of an execution.
type Translator struct {
	opts Options
	log  *slog.Logger

	text          messageStream
	thinking      messageStream
	thinkingBlock bool

	lastStreamedText  string
	lastStreamedRunID string
	hasLastStreamed   bool

	streams          map[string]*toolStream
	activeStreamID   string
	completedStreams map[string]bool
	lastStreamedName string
	lastStreamedID   string
	confirmedToID    map[string]string

	longRunning    map[string]bool
	predictiveIDs  map[string]bool
	predictEmitted map[string]bool
	confirmQueued  map[string]bool
	deferred       []events.Event

	out []events.Event
}

// New creates a Translator.
func New(opts Options) *Translator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Announced == nil {
		opts.Announced = NewCallSet()
	}
	t := &Translator{opts: opts, log: opts.Logger}
	t.Reset()
	return t
}

// Reset returns the translator to its initial state.
func (t *Translator) Reset() {
	t.text.reset()
	t.thinking.reset()
	t.thinkingBlock = false
	t.lastStreamedText = ""
	t.lastStreamedRunID = ""
	t.hasLastStreamed = false
	t.streams = make(map[string]*toolStream)
	t.activeStreamID = ""
	t.completedStreams = make(map[string]bool)
	t.lastStreamedName = ""
	t.lastStreamedID = ""
	t.confirmedToID = make(map[string]string)
	t.longRunning = make(map[string]bool)
	t.predictiveIDs = make(map[string]bool)
	t.predictEmitted = make(map[string]bool)
	t.confirmQueued = make(map[string]bool)
	t.deferred = nil
	t.out = nil
}

// Announced returns the set of tool-call ids already sent to the client.
func (t *Translator) Announced() *CallSet {
	return t.opts.Announced
}

// Translate converts one native event into protocol events. A failure while
// translating is logged and the rest of the event is dropped; events produced
// before the failure are still returned.
func (t *Translator) Translate(ev Event, threadID, runID string) (out []events.Event) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("failed to translate runtime event",
				"thread_id", threadID,
				"run_id", runID,
				"author", ev.Author,
				"error", fmt.Sprint(r),
			)
			out = t.flush()
		}
	}()

	if ev.Author == AuthorUser {
		return nil
	}

	var thought, text strings.Builder
	for _, it := range ev.Items {
		switch v := it.(type) {
		case Thought:
			thought.WriteString(v.Text)
		case Text:
			text.WriteString(v.Text)
		}
	}
	t.translateContent(ev, thought.String(), text.String(), runID)

	if calls := ev.FunctionCalls(); len(calls) > 0 {
		if ev.Phase == PhaseDelta {
			t.translateStreamingCalls(ev, calls)
		} else {
			t.translateCompleteCalls(ev, calls)
		}
	}

	if responses := ev.FunctionResponses(); len(responses) > 0 {
		t.translateResponses(responses)
	}

	for _, it := range ev.Items {
		switch v := it.(type) {
		case StateDelta:
			t.translateStateDelta(v.Delta)
		case StateSnapshot:
			t.emit(events.NewStateSnapshotEvent(v.State))
		case Custom:
			t.emit(events.NewCustomEvent(v.Name, events.WithValue(v.Value)))
		}
	}

	return t.flush()
}

// ForceCloseOpenStream closes any message, thinking block or tool call that
// is still open. It is called once the runtime stream has ended.
func (t *Translator) ForceCloseOpenStream() []events.Event {
	t.closeThinking()
	if t.text.isOpen() {
		t.closeText("")
	}
	ids := make([]string, 0, len(t.streams))
	for id := range t.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if st := t.streams[id]; st.started() {
			t.log.Warn("closing unfinished tool call stream", "tool_call_id", id, "tool", st.name)
			t.finishToolStream(st)
		} else {
			delete(t.streams, id)
		}
	}
	t.activeStreamID = ""
	return t.flush()
}

// DeferredConfirmEvents returns the queued confirmation tool calls and clears
// the queue. They are emitted after the runtime stream ends.
func (t *Translator) DeferredConfirmEvents() []events.Event {
	out := t.deferred
	t.deferred = nil
	return out
}

// IsLongRunning reports whether id was seen as a long-running tool call.
func (t *Translator) IsLongRunning(id string) bool {
	return t.longRunning[id]
}

func (t *Translator) emit(ev events.Event) {
	t.out = append(t.out, ev)
}

func (t *Translator) flush() []events.Event {
	out := t.out
	t.out = nil
	return out
}

func (t *Translator) translateStateDelta(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ops := make([]events.JSONPatchOperation, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, events.JSONPatchOperation{
			Op:    "add",
			Path:  "/" + escapePointer(k),
			Value: delta[k],
		})
	}
	t.emit(events.NewStateDeltaEvent(ops))
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func escapePointer(key string) string {
	return pointerEscaper.Replace(key)
}

// marshalJSON encodes v without HTML escaping and without a trailing newline.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
