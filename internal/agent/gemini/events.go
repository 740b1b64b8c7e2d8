package gemini

import "encoding/json"

// rawStats holds token accounting from Gemini's result event.
type rawStats struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
	Cached       int64 `json:"cached,omitempty"`
	DurationMS   int64 `json:"duration_ms,omitempty"`
}

// rawEvent mirrors one Gemini CLI NDJSON line. Unlike Claude's nested
// envelopes the format is flat: every field lives at the top level and
// the type field decides which ones are meaningful. The content field
// is polymorphic, either a plain string or an array of blocks.
type rawEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// tool_use / tool_result fields.
	ToolName   string          `json:"tool_name,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Status     string          `json:"status,omitempty"`
	Output     string          `json:"output,omitempty"`

	// result / error fields.
	Response string          `json:"response,omitempty"`
	Message  string          `json:"message,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
	Stats    *rawStats       `json:"stats,omitempty"`
}

// contentBlock is one element of a structured content array.
type contentBlock struct {
	Type  string          `json:"type,omitempty"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}
