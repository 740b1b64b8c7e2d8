package claude

import "encoding/json"

// rawUsage holds token usage from Claude CLI JSON output.
type rawUsage struct {
	InputTokens              int64 `json:"input_tokens,omitempty"`
	OutputTokens             int64 `json:"output_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
}

// contentBlock is one element of an assistant message's content array.
// Thinking blocks put their text in the thinking field, not text.
type contentBlock struct {
	Type     string          `json:"type,omitempty"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

type messageContent struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Model   string         `json:"model,omitempty"`
	Content []contentBlock `json:"content,omitempty"`
	Usage   *rawUsage      `json:"usage,omitempty"`
}

// compactMetadata describes a context compaction boundary.
type compactMetadata struct {
	Trigger   string `json:"trigger,omitempty"`
	PreTokens int64  `json:"pre_tokens,omitempty"`
}

// rawEvent mirrors one Claude CLI output line. The error field is
// polymorphic: the CLI sends either a string code or an object.
type rawEvent struct {
	Type      string           `json:"type"`
	SubType   string           `json:"subtype,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Model     string           `json:"model,omitempty"`
	Status    string           `json:"status,omitempty"`
	Message   *messageContent  `json:"message,omitempty"`
	Compact   *compactMetadata `json:"compact_metadata,omitempty"`

	// Result envelope fields.
	Result       string          `json:"result,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	TotalCostUSD float64         `json:"total_cost_usd,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	NumTurns     int             `json:"num_turns,omitempty"`
	Usage        *rawUsage       `json:"usage,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
}
