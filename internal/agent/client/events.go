package client

import (
	"encoding/json"
	"time"
)

// Event types shared across providers. Provider parsers normalize their
// native stream formats into these.
const (
	EventTypeSystem     = "system"
	EventTypeText       = "text"
	EventTypeThinking   = "thinking"
	EventTypeToolUse    = "tool_use"
	EventTypeToolResult = "tool_result"
	EventTypeResult     = "result"
)

// System event subtypes.
const (
	SubTypeInit            = "init"
	SubTypeStatus          = "status"
	SubTypeCompactBoundary = "compact_boundary"
)

// OutputEvent is a normalized event parsed from a provider CLI's output
// stream. Providers emit different wire formats (Claude NDJSON envelopes,
// Codex JSONL items, Gemini flat NDJSON) but all collapse into this shape.
type OutputEvent struct {
	// Type is one of the EventType constants.
	Type string

	// SubType carries provider-specific detail, e.g. "init" for system
	// events or the native item type for tool use.
	SubType string

	// Timestamp is when the event was parsed, not when the provider
	// produced it; most providers do not timestamp their stream.
	Timestamp time.Time

	// Text holds assistant text for text and thinking events, and the
	// final response (or error message) for result events.
	Text string

	// ToolName and ToolInput are set for tool_use events. ToolID, when the
	// provider assigns one, correlates tool_use with tool_result.
	ToolName  string
	ToolID    string
	ToolInput json.RawMessage

	// SessionID is set when the provider announces its session, typically
	// on the first system event. Consumers capture the first non-empty
	// value.
	SessionID string

	// Model is the model the provider reports it is running, when known.
	Model string

	// IsError marks a result event as a failure.
	IsError bool

	// Usage is attached to result events when the provider reports it.
	Usage *UsageInfo

	// PreTokens is the pre-compaction token count reported on
	// compact_boundary system events.
	PreTokens int64

	// Raw preserves the original line for debugging.
	Raw json.RawMessage
}

// UsageInfo captures per-run accounting reported by the provider.
type UsageInfo struct {
	InputTokens  int64   `json:"input_tokens,omitempty"`
	CachedTokens int64   `json:"cached_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
}

// IsText reports whether the event carries assistant text.
func (e OutputEvent) IsText() bool {
	return e.Type == EventTypeText
}

// IsThinking reports whether the event is reasoning output.
func (e OutputEvent) IsThinking() bool {
	return e.Type == EventTypeThinking
}

// IsToolUse reports whether the event is a tool invocation.
func (e OutputEvent) IsToolUse() bool {
	return e.Type == EventTypeToolUse
}

// IsResult reports whether the event terminates a run.
func (e OutputEvent) IsResult() bool {
	return e.Type == EventTypeResult
}

// IsErrorResult reports whether the event is a failed run result.
func (e OutputEvent) IsErrorResult() bool {
	return e.Type == EventTypeResult && e.IsError
}

// HasContent reports whether the event carries any displayable payload.
func (e OutputEvent) HasContent() bool {
	return e.Text != "" || e.ToolName != ""
}

// NewTextEvent builds an assistant text event.
func NewTextEvent(text string) OutputEvent {
	return OutputEvent{
		Type:      EventTypeText,
		Timestamp: time.Now(),
		Text:      text,
	}
}

// NewThinkingEvent builds a reasoning event.
func NewThinkingEvent(text string) OutputEvent {
	return OutputEvent{
		Type:      EventTypeThinking,
		Timestamp: time.Now(),
		Text:      text,
	}
}

// NewToolUseEvent builds a tool invocation event.
func NewToolUseEvent(name string, input json.RawMessage) OutputEvent {
	return OutputEvent{
		Type:      EventTypeToolUse,
		Timestamp: time.Now(),
		ToolName:  name,
		ToolInput: input,
	}
}

// NewSystemEvent builds a system event with the given subtype.
func NewSystemEvent(subType string) OutputEvent {
	return OutputEvent{
		Type:      EventTypeSystem,
		SubType:   subType,
		Timestamp: time.Now(),
	}
}

// NewResultEvent builds a successful run result.
func NewResultEvent(text string, usage *UsageInfo) OutputEvent {
	return OutputEvent{
		Type:      EventTypeResult,
		Timestamp: time.Now(),
		Text:      text,
		Usage:     usage,
	}
}

// NewErrorResultEvent builds a failed run result.
func NewErrorResultEvent(text string) OutputEvent {
	return OutputEvent{
		Type:      EventTypeResult,
		Timestamp: time.Now(),
		Text:      text,
		IsError:   true,
	}
}
