package claude

import (
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"agui-bridge/internal/agui"
	"agui-bridge/internal/proxytool"
)

// convertMessages turns the AG-UI history into Messages API params. System
// and developer messages plus client context go into the system prompt.
// Consecutive messages of one role are merged since the API expects turns to
// alternate.
func convertMessages(in *agui.RunAgentInput, instruction string) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var system []anthropic.TextBlockParam
	if instruction != "" {
		system = append(system, anthropic.TextBlockParam{Text: instruction})
	}
	for _, c := range in.Context {
		if c.Value != "" {
			system = append(system, anthropic.TextBlockParam{Text: c.Description + ": " + c.Value})
		}
	}

	var result []anthropic.MessageParam
	add := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, blocks...)
			return
		}
		result = append(result, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range in.Messages {
		text := msg.ContentText()
		switch msg.Role {
		case agui.RoleSystem, agui.RoleDeveloper:
			// Skip empty system messages - the API rejects empty text blocks
			if text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case agui.RoleUser:
			if text != "" {
				add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(text))
			}
		case agui.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Function.Arguments), tc.Function.Name))
			}
			add(anthropic.MessageParamRoleAssistant, blocks...)
		case agui.RoleTool:
			content, isError := text, false
			if msg.Error != "" {
				content, isError = msg.Error, true
			}
			add(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, content, isError))
		}
	}
	return result, system
}

func toolInput(arguments string) any {
	var input any
	if strings.TrimSpace(arguments) == "" || json.Unmarshal([]byte(arguments), &input) != nil || input == nil {
		return map[string]any{}
	}
	return input
}

// convertTools declares the client tools to the model.
func convertTools(defs []proxytool.Definition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	result := make([]anthropic.ToolUnionParam, len(defs))
	for i, d := range defs {
		var required []string
		if reqVal, ok := d.Parameters["required"].([]any); ok {
			for _, r := range reqVal {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		tool := anthropic.ToolParam{
			Name: d.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: d.Parameters["properties"],
				Required:   required,
			},
		}
		if d.Description != "" {
			tool.Description = anthropic.String(d.Description)
		}
		result[i] = anthropic.ToolUnionParam{OfTool: &tool}
	}
	return result
}

// resultContent renders a tool result for a tool_result block.
func resultContent(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	default:
		data, err := json.Marshal(r)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
