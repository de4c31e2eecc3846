package agui

import "fmt"

var validRoles = map[string]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
	RoleDeveloper: true,
	RoleTool:      true,
}

// Validate checks the run input before any run is started.
func (in *RunAgentInput) Validate() error {
	if in.ThreadID == "" {
		return fmt.Errorf("missing required field 'threadId'")
	}
	if len(in.Messages) == 0 {
		return ErrNoMessages
	}
	if err := ValidateMessages(in.Messages); err != nil {
		return err
	}
	for i, t := range in.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool at index %d missing required field 'name'", i)
		}
	}
	return nil
}

// ValidateMessages validates that messages have the required structure
func ValidateMessages(messages []Message) error {
	for i, msg := range messages {
		if msg.ID == "" {
			return fmt.Errorf("message at index %d missing required field 'id'", i)
		}
		if msg.Role == "" {
			return fmt.Errorf("message at index %d missing required field 'role'", i)
		}
		if !validRoles[msg.Role] {
			return fmt.Errorf("message at index %d has invalid 'role' value: %s", i, msg.Role)
		}

		switch msg.Role {
		case RoleUser:
			if msg.Content == nil {
				return fmt.Errorf("message at index %d missing required field 'content' for role '%s'", i, msg.Role)
			}
		case RoleTool:
			if msg.ToolCallID == "" {
				return fmt.Errorf("message at index %d missing required field 'toolCallId' for role '%s'", i, msg.Role)
			}
		}

		if msg.Content != nil {
			switch msg.Content.(type) {
			case string, []any:
			default:
				return fmt.Errorf("message at index %d has invalid 'content' type (expected string or array)", i)
			}
		}
	}

	return nil
}
