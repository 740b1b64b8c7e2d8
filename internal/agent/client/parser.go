package client

import (
	"encoding/json"
	"strings"
)

// EventParser converts provider-specific output lines into normalized
// events. A single line may yield zero events (ignored stream noise) or
// several (an envelope carrying multiple content blocks).
type EventParser interface {
	// ParseEvents parses one line of CLI output. A nil slice with a nil
	// error means the line carried nothing of interest.
	ParseEvents(line []byte) ([]OutputEvent, error)
}

// ParsePolymorphicError extracts an error message from a JSON value that
// may be either a plain string or an object with a message field. Provider
// streams are inconsistent about which shape they use.
func ParsePolymorphicError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}

	return strings.Trim(string(raw), `"`)
}

// TruncateForError bounds free-form process output for inclusion in an
// error message.
func TruncateForError(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
