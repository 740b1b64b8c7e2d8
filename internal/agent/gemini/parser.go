package gemini

import (
	"encoding/json"

	"github.com/ductor/ductor/internal/agent/client"
)

// Parser implements client.EventParser for Gemini CLI NDJSON.
type Parser struct{}

// NewParser creates a Gemini event parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseEvents converts one Gemini CLI line into normalized events.
//
// Line type mappings:
//   - init -> system event carrying the session id
//   - message -> text and tool_use events from the content payload
//   - tool_use / tool_result -> the corresponding events
//   - result -> terminal result with text, stats, and error status
//   - error -> error result with the message field
//
// Unknown line types yield no events.
func (p *Parser) ParseEvents(data []byte) ([]client.OutputEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "init":
		ev := client.NewSystemEvent(client.SubTypeInit)
		ev.SessionID = raw.SessionID
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}, nil
	case "message":
		return p.parseMessage(raw, data), nil
	case "tool_use":
		ev := client.NewToolUseEvent(raw.ToolName, raw.Parameters)
		ev.ToolID = raw.ToolID
		ev.SessionID = raw.SessionID
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}, nil
	case "tool_result":
		ev := client.OutputEvent{
			Type:    client.EventTypeToolResult,
			ToolID:  raw.ToolID,
			Text:    raw.Output,
			IsError: raw.Status == "error",
			Raw:     cloneRaw(data),
		}
		return []client.OutputEvent{ev}, nil
	case "result":
		return []client.OutputEvent{p.parseResult(raw, data)}, nil
	case "error":
		msg := raw.Message
		if msg == "" {
			msg = "Unknown Gemini error"
		}
		ev := client.NewErrorResultEvent(msg)
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}, nil
	default:
		return nil, nil
	}
}

// parseMessage handles the polymorphic content field: a plain string is
// one text event, an array fans out into text and tool_use events.
// Non-assistant roles are ignored.
func (p *Parser) parseMessage(raw rawEvent, data []byte) []client.OutputEvent {
	if raw.Role != "assistant" || len(raw.Content) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		if text == "" {
			return nil
		}
		ev := client.NewTextEvent(text)
		ev.SessionID = raw.SessionID
		ev.Raw = cloneRaw(data)
		return []client.OutputEvent{ev}
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw.Content, &blocks); err != nil {
		return nil
	}

	var events []client.OutputEvent
	for _, block := range blocks {
		var ev client.OutputEvent
		switch block.Type {
		case "text":
			ev = client.NewTextEvent(block.Text)
		case "tool_use":
			ev = client.NewToolUseEvent(block.Name, block.Input)
			ev.ToolID = block.ID
		default:
			continue
		}
		ev.SessionID = raw.SessionID
		ev.Raw = cloneRaw(data)
		events = append(events, ev)
	}
	return events
}

func (p *Parser) parseResult(raw rawEvent, data []byte) client.OutputEvent {
	isError := raw.Status == "error"

	text := raw.Response
	if text == "" {
		// Older CLI builds put the final text in content or output.
		var s string
		if err := json.Unmarshal(raw.Content, &s); err == nil {
			text = s
		}
	}
	if text == "" {
		text = raw.Output
	}
	if text == "" && isError {
		text = client.ParsePolymorphicError(raw.Error)
	}

	var usage *client.UsageInfo
	if raw.Stats != nil {
		usage = &client.UsageInfo{
			InputTokens:  raw.Stats.InputTokens,
			CachedTokens: raw.Stats.Cached,
			OutputTokens: raw.Stats.OutputTokens,
			DurationMS:   raw.Stats.DurationMS,
		}
	}

	ev := client.NewResultEvent(text, usage)
	ev.IsError = isError
	ev.SessionID = raw.SessionID
	ev.Raw = cloneRaw(data)
	return ev
}

func cloneRaw(data []byte) json.RawMessage {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

var _ client.EventParser = (*Parser)(nil)
