// Package runtime defines the boundary between the coordinator and an agent
// runtime. Each runtime adapter normalizes its native events into
// translator.Event values and publishes them to a Sink.
package runtime

import (
	"context"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/proxytool"
	"agui-bridge/internal/translator"
)

// Sink receives normalized runtime events. Publish fails once the execution
// has been cancelled; the runtime should stop then.
type Sink interface {
	Publish(ev translator.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev translator.Event) error

// Publish calls f(ev).
func (f SinkFunc) Publish(ev translator.Event) error {
	return f(ev)
}

// RunRequest is everything a runtime needs for one execution.
type RunRequest struct {
	ThreadID string
	RunID    string
	UserID   string
	Input    *agui.RunAgentInput
	// Tools proxies the client-declared tools of this execution.
	Tools *proxytool.Toolset
	// State is the merged client state at the start of the run.
	State map[string]any
	// ToolResults is set for a continuation run started by a tool-result
	// submission after the previous run already finished.
	ToolResults []agui.ToolResult
}

// Runtime executes an agent turn.
type Runtime interface {
	Run(ctx context.Context, req RunRequest, sink Sink) error
}
