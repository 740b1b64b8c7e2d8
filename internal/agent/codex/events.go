package codex

import "encoding/json"

// codexEvent mirrors one Codex CLI JSONL line.
//
// Event types:
//   - thread.started: thread initialization with thread_id
//   - turn.started / turn.completed / turn.failed: turn lifecycle
//   - item.started / item.updated / item.completed: item lifecycle
type codexEvent struct {
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id,omitempty"`
	Item     *codexItem  `json:"item,omitempty"`
	Usage    *codexUsage `json:"usage,omitempty"`
	Error    *codexError `json:"error,omitempty"`
}

// codexItem is one thread item. Item types: agent_message, reasoning,
// command_execution, file_change, web_search, todo_list, mcp_tool_call.
type codexItem struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type,omitempty"`
	Text      string          `json:"text,omitempty"`
	Command   string          `json:"command,omitempty"`
	Name      string          `json:"name,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// codexUsage is the accounting block on turn.completed events.
type codexUsage struct {
	InputTokens       int64 `json:"input_tokens,omitempty"`
	CachedInputTokens int64 `json:"cached_input_tokens,omitempty"`
	OutputTokens      int64 `json:"output_tokens,omitempty"`
}

// codexError is the error field on turn.failed events. The CLI sends it
// as either a string or an object with a message field.
type codexError struct {
	Message string `json:"message,omitempty"`
}

func (e *codexError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Message = obj.Message
	return nil
}

// toolNameFor maps Codex item types onto the canonical tool names the
// rest of the pipeline displays. MCP calls use the item's own tool name
// when it carries one.
func toolNameFor(item *codexItem) string {
	switch item.Type {
	case "command_execution":
		return "Bash"
	case "file_change":
		return "Edit"
	case "web_search":
		return "WebSearch"
	case "todo_list":
		return "TodoWrite"
	case "mcp_tool_call":
		if item.Name != "" {
			return item.Name
		}
		if item.ToolName != "" {
			return item.ToolName
		}
		return "MCP"
	default:
		return ""
	}
}

// toolInputFor extracts the displayable input for a tool item.
func toolInputFor(item *codexItem) json.RawMessage {
	switch item.Type {
	case "command_execution":
		if item.Command == "" {
			return nil
		}
		input, err := json.Marshal(map[string]string{"command": item.Command})
		if err != nil {
			return nil
		}
		return input
	case "mcp_tool_call":
		return item.Arguments
	default:
		return nil
	}
}
