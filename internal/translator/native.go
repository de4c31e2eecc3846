package translator

// AuthorUser marks native events that echo the end user's own input.
const AuthorUser = "user"

// Phase describes how a native event relates to content already streamed.
type Phase int

const (
	// PhaseDelta is one incremental chunk of a streaming response.
	PhaseDelta Phase = iota
	// PhaseComplete is a non-streamed event. While a message is open its text
	// repeats what the deltas already carried.
	PhaseComplete
	// PhaseFinal is the consolidated final response of a turn.
	PhaseFinal
)

func (p Phase) String() string {
	switch p {
	case PhaseDelta:
		return "delta"
	case PhaseComplete:
		return "complete"
	case PhaseFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Event is one agent-runtime event normalized by a runtime adapter.
// Items keep the order in which the runtime produced them.
type Event struct {
	Author             string
	Phase              Phase
	TurnComplete       bool
	FinishReason       string
	LongRunningToolIDs []string
	Items              []Item
}

// Item is one typed piece of a native event.
type Item interface {
	isItem()
}

// Text is regular assistant text.
type Text struct {
	Text string
}

// Thought is reasoning text the runtime marked as a thought.
type Thought struct {
	Text string
}

// FunctionCall is a tool invocation requested by the model.
//
// Args holds the complete arguments on terminal events and the accumulated
// arguments so far on streaming events. Fragments carries token-level
// argument pieces for runtimes that stream arguments by JSON path.
type FunctionCall struct {
	ID           string
	Name         string
	Args         map[string]any
	Fragments    []ArgFragment
	WillContinue bool
}

// ArgFragment is a piece of one string argument addressed by JSON path ("$.key").
type ArgFragment struct {
	JSONPath string
	Value    string
}

// FunctionResponse is a tool result flowing back toward the model.
type FunctionResponse struct {
	ID       string
	Name     string
	Response any
}

// StateDelta lists changed top-level state keys.
type StateDelta struct {
	Delta map[string]any
}

// StateSnapshot replaces the whole client state.
type StateSnapshot struct {
	State any
}

// Custom is runtime metadata forwarded as a custom protocol event.
type Custom struct {
	Name  string
	Value any
}

func (Text) isItem()             {}
func (Thought) isItem()          {}
func (FunctionCall) isItem()     {}
func (FunctionResponse) isItem() {}
func (StateDelta) isItem()       {}
func (StateSnapshot) isItem()    {}
func (Custom) isItem()           {}

// FunctionCalls returns the function calls carried by the event.
func (e Event) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, it := range e.Items {
		if fc, ok := it.(FunctionCall); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

// FunctionResponses returns the function responses carried by the event.
func (e Event) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, it := range e.Items {
		if fr, ok := it.(FunctionResponse); ok {
			responses = append(responses, fr)
		}
	}
	return responses
}
