package translator

import (
	"fmt"
	"strings"
)

// streamState is the lifecycle of one bracketed stream (text, thinking text or tool call).
type streamState int

const (
	stateIdle streamState = iota
	stateStreaming
	stateClosing
)

func (s streamState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStreaming:
		return "streaming"
	case stateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var allowedTransitions = map[streamState]map[streamState]bool{
	stateIdle:      {stateStreaming: true},
	stateStreaming: {stateClosing: true},
	stateClosing:   {stateIdle: true},
}

// transition panics on an edge the state machine does not allow; Translate
// recovers and logs it.
func transition(from, to streamState) streamState {
	if !allowedTransitions[from][to] {
		panic(fmt.Sprintf("invalid stream transition %s -> %s", from, to))
	}
	return to
}

// messageStream tracks one open text or thinking-text message.
type messageStream struct {
	state streamState
	id    string
	buf   strings.Builder
}

func (s *messageStream) isOpen() bool {
	return s.state == stateStreaming
}

func (s *messageStream) begin(id string) {
	s.state = transition(s.state, stateStreaming)
	s.id = id
	s.buf.Reset()
}

func (s *messageStream) write(delta string) {
	s.buf.WriteString(delta)
}

// finish walks Streaming -> Closing -> Idle and returns what the stream held.
func (s *messageStream) finish() (id, text string) {
	s.state = transition(s.state, stateClosing)
	id, text = s.id, s.buf.String()
	s.id = ""
	s.buf.Reset()
	s.state = transition(s.state, stateIdle)
	return id, text
}

func (s *messageStream) reset() {
	s.state = stateIdle
	s.id = ""
	s.buf.Reset()
}

// toolStream tracks one tool call whose arguments arrive over several events.
// Idle means the call is known but TOOL_CALL_START is deferred.
type toolStream struct {
	state streamState
	id    string
	name  string

	// accumulated-args mode
	prevFull string
	prevOpen string

	// fragment mode
	startedPaths map[string]bool
	openPath     string
}

func newToolStream(id, name string) *toolStream {
	return &toolStream{id: id, name: name, startedPaths: make(map[string]bool)}
}

func (s *toolStream) started() bool {
	return s.state != stateIdle
}
