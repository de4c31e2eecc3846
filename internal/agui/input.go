// Package agui holds the AG-UI run input model, its validation and the
// per-thread client state store.
package agui

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agui-bridge/internal/proxytool"
)

// Message roles accepted in a run input.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleTool      = "tool"
)

// ErrNoMessages is returned for a run input without messages.
var ErrNoMessages = errors.New("run input has no messages")

// RunAgentInput represents the AG-UI protocol input format
type RunAgentInput struct {
	ThreadID       string         `json:"threadId"`
	RunID          string         `json:"runId"`
	State          map[string]any `json:"state,omitempty"`
	Messages       []Message      `json:"messages"`
	Tools          []Tool         `json:"tools,omitempty"`
	Context        []ContextItem  `json:"context,omitempty"`
	ForwardedProps map[string]any `json:"forwardedProps,omitempty"`
}

// Message is one conversation message. Content is a string or a list of
// content parts.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"`
	Content    any        `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// ToolCall is an assistant message's request to call a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is a client-side tool the agent may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ContextItem is extra context supplied by the client.
type ContextItem struct {
	Description string `json:"description"`
	Value       string `json:"value"`
}

// ContentText flattens the message content to plain text.
func (m Message) ContentText() string {
	switch c := m.Content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var b strings.Builder
		for _, part := range c {
			p, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := p["text"].(string); ok {
				b.WriteString(text)
			}
		}
		return b.String()
	default:
		return fmt.Sprint(c)
	}
}

// ToolResults returns the trailing run of tool messages. A non-empty result
// means the request submits client tool results.
func (in *RunAgentInput) ToolResults() []Message {
	i := len(in.Messages)
	for i > 0 && in.Messages[i-1].Role == RoleTool {
		i--
	}
	return in.Messages[i:]
}

// LastUserMessage returns the most recent user message.
func (in *RunAgentInput) LastUserMessage() (Message, bool) {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role == RoleUser && in.Messages[i].ContentText() != "" {
			return in.Messages[i], true
		}
	}
	return Message{}, false
}

// ToolDefinitions converts the declared tools for the proxy layer.
func (in *RunAgentInput) ToolDefinitions() []proxytool.Definition {
	defs := make([]proxytool.Definition, 0, len(in.Tools))
	for _, t := range in.Tools {
		defs = append(defs, proxytool.Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// ToolCallName finds the tool name of callID in the assistant messages.
func (in *RunAgentInput) ToolCallName(callID string) string {
	for _, m := range in.Messages {
		for _, tc := range m.ToolCalls {
			if tc.ID == callID {
				return tc.Function.Name
			}
		}
	}
	return ""
}

// ToolResult is a decoded client tool result.
type ToolResult struct {
	CallID string
	Name   string
	Value  any
	Err    error
}

// ParseToolResult decodes the JSON content of a tool message. A message
// carrying an error yields a result with Err set.
func ParseToolResult(m Message) (ToolResult, error) {
	res := ToolResult{CallID: m.ToolCallID, Name: m.Name}
	if m.Error != "" {
		res.Err = errors.New(m.Error)
		return res, nil
	}
	text := strings.TrimSpace(m.ContentText())
	if text == "" {
		return res, nil
	}
	if err := json.Unmarshal([]byte(text), &res.Value); err != nil {
		return res, fmt.Errorf("invalid JSON in result of tool call %s: %w", m.ToolCallID, err)
	}
	return res, nil
}
