package codex

import "github.com/ductor/ductor/internal/agent/client"

// thinkingFilter suppresses Codex pre-tool chatter. Codex emits
// agent_message items while deciding which tool to call next; that text
// is monologue, not the reply. Text deltas are buffered, discarded when
// a tool call follows, and flushed when anything else arrives.
type thinkingFilter struct {
	pending []client.OutputEvent
}

func newThinkingFilter() *thinkingFilter {
	return &thinkingFilter{}
}

func (f *thinkingFilter) Process(ev client.OutputEvent) []client.OutputEvent {
	switch {
	case ev.IsText():
		f.pending = append(f.pending, ev)
		return nil
	case ev.IsToolUse():
		f.pending = nil
		return []client.OutputEvent{ev}
	case ev.IsThinking():
		return []client.OutputEvent{ev}
	default:
		return append(f.Flush(), ev)
	}
}

// Flush drains buffered text at stream end.
func (f *thinkingFilter) Flush() []client.OutputEvent {
	out := f.pending
	f.pending = nil
	return out
}

var _ client.EventFilter = (*thinkingFilter)(nil)
