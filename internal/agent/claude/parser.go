package claude

import (
	"encoding/json"

	"github.com/ductor/ductor/internal/agent/client"
)

// Parser implements client.EventParser for Claude CLI NDJSON.
type Parser struct{}

// NewParser creates a Claude event parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseEvents converts one Claude CLI line into normalized events.
//
// Envelope mappings:
//   - system/init -> system event carrying session id and model
//   - system/status -> system event with the status string
//   - system/compact_boundary -> system event with trigger and pre_tokens
//   - assistant -> one event per content block (text, thinking, tool_use)
//   - result -> terminal result with text, error flag, cost, and usage
//
// Unknown envelope types yield no events.
func (p *Parser) ParseEvents(data []byte) ([]client.OutputEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "system":
		return p.parseSystem(raw, data), nil
	case "assistant":
		return p.parseAssistant(raw, data), nil
	case "result":
		return []client.OutputEvent{p.parseResult(raw, data)}, nil
	default:
		return nil, nil
	}
}

func (p *Parser) parseSystem(raw rawEvent, data []byte) []client.OutputEvent {
	ev := client.NewSystemEvent(raw.SubType)
	ev.SessionID = raw.SessionID
	ev.Model = raw.Model
	ev.Raw = cloneRaw(data)

	switch raw.SubType {
	case client.SubTypeStatus:
		ev.Text = raw.Status
	case client.SubTypeCompactBoundary:
		if raw.Compact != nil {
			ev.Text = raw.Compact.Trigger
			ev.PreTokens = raw.Compact.PreTokens
		}
	}
	return []client.OutputEvent{ev}
}

func (p *Parser) parseAssistant(raw rawEvent, data []byte) []client.OutputEvent {
	if raw.Message == nil {
		return nil
	}

	var events []client.OutputEvent
	for _, block := range raw.Message.Content {
		var ev client.OutputEvent
		switch block.Type {
		case "text":
			ev = client.NewTextEvent(block.Text)
		case "thinking":
			text := block.Thinking
			if text == "" {
				text = block.Text
			}
			ev = client.NewThinkingEvent(text)
		case "tool_use":
			ev = client.NewToolUseEvent(block.Name, block.Input)
			ev.ToolID = block.ID
		default:
			continue
		}
		ev.SessionID = raw.SessionID
		ev.Model = raw.Message.Model
		ev.Raw = cloneRaw(data)
		events = append(events, ev)
	}
	return events
}

func (p *Parser) parseResult(raw rawEvent, data []byte) client.OutputEvent {
	text := raw.Result
	if raw.IsError && text == "" {
		text = client.ParsePolymorphicError(raw.Error)
	}

	ev := client.NewResultEvent(text, resultUsage(raw))
	ev.IsError = raw.IsError
	ev.SessionID = raw.SessionID
	ev.SubType = raw.SubType
	ev.Raw = cloneRaw(data)
	return ev
}

func resultUsage(raw rawEvent) *client.UsageInfo {
	usage := &client.UsageInfo{
		TotalCostUSD: raw.TotalCostUSD,
		DurationMS:   raw.DurationMS,
		NumTurns:     raw.NumTurns,
	}
	if raw.Usage != nil {
		usage.InputTokens = raw.Usage.InputTokens
		usage.CachedTokens = raw.Usage.CacheReadInputTokens + raw.Usage.CacheCreationInputTokens
		usage.OutputTokens = raw.Usage.OutputTokens
	}
	return usage
}

func cloneRaw(data []byte) json.RawMessage {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

var _ client.EventParser = (*Parser)(nil)
