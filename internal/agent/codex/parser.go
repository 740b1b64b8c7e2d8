package codex

import (
	"encoding/json"

	"github.com/ductor/ductor/internal/agent/client"
)

// Parser implements client.EventParser for Codex CLI JSONL.
type Parser struct{}

// NewParser creates a Codex event parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseEvents converts one Codex CLI line into normalized events.
//
// Mappings:
//   - thread.started -> system init with the thread id as session id
//   - turn.completed -> successful result with usage
//   - turn.failed / error -> error result
//   - item.* routed by item type:
//   - agent_message: text only on item.completed
//   - reasoning: thinking on any phase
//   - tool items: tool_use only on item.started
func (p *Parser) ParseEvents(data []byte) ([]client.OutputEvent, error) {
	var raw codexEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "thread.started":
		ev := client.NewSystemEvent(client.SubTypeInit)
		ev.SessionID = raw.ThreadID
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}, nil

	case "turn.completed":
		ev := client.NewResultEvent("", usageFrom(raw.Usage))
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}, nil

	case "turn.failed":
		var msg string
		if raw.Error != nil {
			msg = raw.Error.Message
		}
		ev := client.NewErrorResultEvent(msg)
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}, nil

	case "item.started", "item.updated", "item.completed":
		return p.parseItem(raw, data), nil

	default:
		return nil, nil
	}
}

func (p *Parser) parseItem(raw codexEvent, data []byte) []client.OutputEvent {
	item := raw.Item
	if item == nil {
		return nil
	}

	switch item.Type {
	case "agent_message":
		// Only the completed phase carries the settled text; earlier
		// phases would triple-count the same message.
		if raw.Type != "item.completed" || item.Text == "" {
			return nil
		}
		ev := client.NewTextEvent(item.Text)
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}

	case "reasoning":
		ev := client.NewThinkingEvent(item.Text)
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}

	case "command_execution", "file_change", "web_search", "todo_list", "mcp_tool_call":
		// Tool indicators fire on started so they appear promptly.
		if raw.Type != "item.started" {
			return nil
		}
		ev := client.NewToolUseEvent(toolNameFor(item), toolInputFor(item))
		ev.ToolID = item.ID
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}

	default:
		return nil
	}
}

func usageFrom(u *codexUsage) *client.UsageInfo {
	if u == nil {
		return nil
	}
	return &client.UsageInfo{
		InputTokens:  u.InputTokens,
		CachedTokens: u.CachedInputTokens,
		OutputTokens: u.OutputTokens,
	}
}

func cloneRaw(data []byte) json.RawMessage {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

var _ client.EventParser = (*Parser)(nil)
