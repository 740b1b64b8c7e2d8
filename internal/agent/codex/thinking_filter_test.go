package codex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ductor/ductor/internal/agent/client"
)

func runFilter(t *testing.T, input []client.OutputEvent) []client.OutputEvent {
	t.Helper()
	f := newThinkingFilter()
	var out []client.OutputEvent
	for _, ev := range input {
		out = append(out, f.Process(ev)...)
	}
	return append(out, f.Flush()...)
}

func TestThinkingFilter_DiscardsPreToolText(t *testing.T) {
	out := runFilter(t, []client.OutputEvent{
		client.NewTextEvent("Let me check the file"),
		client.NewTextEvent("I'll run a search"),
		client.NewToolUseEvent("Bash", nil),
		client.NewTextEvent("The answer is 42."),
		client.NewResultEvent("", nil),
	})

	require.Len(t, out, 3)
	require.True(t, out[0].IsToolUse())
	require.True(t, out[1].IsText())
	require.Equal(t, "The answer is 42.", out[1].Text)
	require.True(t, out[2].IsResult())
}

func TestThinkingFilter_ThinkingPassesThroughWithoutFlush(t *testing.T) {
	out := runFilter(t, []client.OutputEvent{
		client.NewTextEvent("preamble"),
		client.NewThinkingEvent("hmm"),
		client.NewToolUseEvent("Edit", nil),
	})

	// The thinking event slides past the buffer; the buffered text is
	// still dropped by the tool use that follows.
	require.Len(t, out, 2)
	require.True(t, out[0].IsThinking())
	require.True(t, out[1].IsToolUse())
}

func TestThinkingFilter_ResultFlushesBufferFirst(t *testing.T) {
	out := runFilter(t, []client.OutputEvent{
		client.NewTextEvent("first"),
		client.NewTextEvent("second"),
		client.NewResultEvent("", nil),
	})

	require.Len(t, out, 3)
	require.Equal(t, "first", out[0].Text)
	require.Equal(t, "second", out[1].Text)
	require.True(t, out[2].IsResult())
}

func TestThinkingFilter_FlushDrainsTrailingText(t *testing.T) {
	f := newThinkingFilter()
	require.Empty(t, f.Process(client.NewTextEvent("tail text")))

	out := f.Flush()
	require.Len(t, out, 1)
	require.Equal(t, "tail text", out[0].Text)
	require.Empty(t, f.Flush())
}

func TestThinkingFilter_EmptyStream(t *testing.T) {
	require.Empty(t, runFilter(t, nil))
}
