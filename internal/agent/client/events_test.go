package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputEvent_Predicates(t *testing.T) {
	tests := []struct {
		name       string
		event      OutputEvent
		isText     bool
		isThinking bool
		isToolUse  bool
		isResult   bool
		isErrorRes bool
	}{
		{"text", NewTextEvent("hi"), true, false, false, false, false},
		{"thinking", NewThinkingEvent("hmm"), false, true, false, false, false},
		{"tool use", NewToolUseEvent("Bash", nil), false, false, true, false, false},
		{"result", NewResultEvent("done", nil), false, false, false, true, false},
		{"error result", NewErrorResultEvent("boom"), false, false, false, true, true},
		{"system", NewSystemEvent(SubTypeInit), false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.isText, tt.event.IsText())
			require.Equal(t, tt.isThinking, tt.event.IsThinking())
			require.Equal(t, tt.isToolUse, tt.event.IsToolUse())
			require.Equal(t, tt.isResult, tt.event.IsResult())
			require.Equal(t, tt.isErrorRes, tt.event.IsErrorResult())
		})
	}
}

func TestOutputEvent_HasContent(t *testing.T) {
	require.True(t, NewTextEvent("hi").HasContent())
	require.True(t, NewToolUseEvent("Edit", nil).HasContent())
	require.False(t, NewSystemEvent(SubTypeStatus).HasContent())
	require.False(t, OutputEvent{Type: EventTypeResult}.HasContent())
}

func TestNewToolUseEvent_PreservesInput(t *testing.T) {
	input := json.RawMessage(`{"command":"ls"}`)
	ev := NewToolUseEvent("Bash", input)

	require.Equal(t, "Bash", ev.ToolName)
	require.JSONEq(t, `{"command":"ls"}`, string(ev.ToolInput))
	require.False(t, ev.Timestamp.IsZero())
}

func TestNewResultEvent_CarriesUsage(t *testing.T) {
	usage := &UsageInfo{InputTokens: 100, OutputTokens: 50, TotalCostUSD: 0.01}
	ev := NewResultEvent("done", usage)

	require.True(t, ev.IsResult())
	require.False(t, ev.IsError)
	require.Equal(t, int64(100), ev.Usage.InputTokens)
	require.Equal(t, 0.01, ev.Usage.TotalCostUSD)
}

func TestNewErrorResultEvent(t *testing.T) {
	ev := NewErrorResultEvent("something broke")

	require.True(t, ev.IsResult())
	require.True(t, ev.IsError)
	require.Equal(t, "something broke", ev.Text)
}
