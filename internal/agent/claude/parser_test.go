package claude

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ductor/ductor/internal/agent/client"
)

func TestParser_SystemInit(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"sess-1","model":"claude-opus-4"}`

	events, err := NewParser().ParseEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, client.EventTypeSystem, ev.Type)
	require.Equal(t, client.SubTypeInit, ev.SubType)
	require.Equal(t, "sess-1", ev.SessionID)
	require.Equal(t, "claude-opus-4", ev.Model)
}

func TestParser_SystemStatus(t *testing.T) {
	line := `{"type":"system","subtype":"status","status":"compacting"}`

	events, err := NewParser().ParseEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, client.SubTypeStatus, events[0].SubType)
	require.Equal(t, "compacting", events[0].Text)
}

func TestParser_CompactBoundary(t *testing.T) {
	line := `{"type":"system","subtype":"compact_boundary","compact_metadata":{"trigger":"auto","pre_tokens":155000}}`

	events, err := NewParser().ParseEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, client.SubTypeCompactBoundary, events[0].SubType)
	require.Equal(t, "auto", events[0].Text)
	require.Equal(t, int64(155000), events[0].PreTokens)
}

func TestParser_AssistantBlocksFanOut(t *testing.T) {
	line := `{"type":"assistant","session_id":"sess-1","message":{"model":"claude-opus-4","content":[` +
		`{"type":"thinking","thinking":"let me check"},` +
		`{"type":"text","text":"Looking now."},` +
		`{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}]}}`

	events, err := NewParser().ParseEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.True(t, events[0].IsThinking())
	require.Equal(t, "let me check", events[0].Text)

	require.True(t, events[1].IsText())
	require.Equal(t, "Looking now.", events[1].Text)

	require.True(t, events[2].IsToolUse())
	require.Equal(t, "Bash", events[2].ToolName)
	require.Equal(t, "tu_1", events[2].ToolID)
	require.JSONEq(t, `{"command":"ls"}`, string(events[2].ToolInput))

	for _, ev := range events {
		require.Equal(t, "sess-1", ev.SessionID)
		require.Equal(t, "claude-opus-4", ev.Model)
	}
}

func TestParser_AssistantUnknownBlockSkipped(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"image"},{"type":"text","text":"hi"}]}}`

	events, err := NewParser().ParseEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "hi", events[0].Text)
}

func TestParser_Result(t *testing.T) {
	line := `{"type":"result","subtype":"success","session_id":"sess-1","result":"All done.",` +
		`"is_error":false,"total_cost_usd":0.0421,"duration_ms":5321,"num_turns":3,` +
		`"usage":{"input_tokens":1200,"cache_read_input_tokens":800,"output_tokens":400}}`

	events, err := NewParser().ParseEvents([]byte(line))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	require.True(t, ev.IsResult())
	require.False(t, ev.IsError)
	require.Equal(t, "All done.", ev.Text)
	require.Equal(t, "sess-1", ev.SessionID)
	require.Equal(t, 0.0421, ev.Usage.TotalCostUSD)
	require.Equal(t, int64(5321), ev.Usage.DurationMS)
	require.Equal(t, 3, ev.Usage.NumTurns)
	require.Equal(t, int64(1200), ev.Usage.InputTokens)
	require.Equal(t, int64(800), ev.Usage.CachedTokens)
	require.Equal(t, int64(400), ev.Usage.OutputTokens)
}

func TestParser_ErrorResult_PolymorphicError(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{
			"error as string",
			`{"type":"result","is_error":true,"error":"rate_limit_exceeded"}`,
			"rate_limit_exceeded",
		},
		{
			"error as object",
			`{"type":"result","is_error":true,"error":{"message":"No conversation found with session ID: s1"}}`,
			"No conversation found with session ID: s1",
		},
		{
			"result text wins when present",
			`{"type":"result","is_error":true,"result":"Budget exceeded","error":"budget"}`,
			"Budget exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := NewParser().ParseEvents([]byte(tt.line))
			require.NoError(t, err)
			require.Len(t, events, 1)
			require.True(t, events[0].IsErrorResult())
			require.Equal(t, tt.want, events[0].Text)
		})
	}
}

func TestParser_UnknownTypeIgnored(t *testing.T) {
	events, err := NewParser().ParseEvents([]byte(`{"type":"user","message":{}}`))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestParser_MalformedLine(t *testing.T) {
	_, err := NewParser().ParseEvents([]byte(`{not json`))
	require.Error(t, err)
}
