package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEveryNMessages(t *testing.T) {
	sixth := EveryNMessages(6)

	// MessageCount is pre-increment: 5 means the 6th message.
	require.False(t, sixth(HookContext{MessageCount: 0}))
	require.False(t, sixth(HookContext{MessageCount: 4}))
	require.True(t, sixth(HookContext{MessageCount: 5}))
	require.False(t, sixth(HookContext{MessageCount: 6}))
	require.True(t, sixth(HookContext{MessageCount: 11}))
	require.True(t, sixth(HookContext{MessageCount: 17}))
}

func TestHookRegistry_AppliesMemoryCheck(t *testing.T) {
	r := NewHookRegistry()

	prompt := r.Apply("what changed today?", HookContext{MessageCount: 5})
	require.Contains(t, prompt, "what changed today?")
	require.Contains(t, prompt, "## MEMORY CHECK")
}

func TestHookRegistry_NoMatchLeavesPromptUntouched(t *testing.T) {
	r := NewHookRegistry()

	prompt := r.Apply("hello", HookContext{MessageCount: 0})
	require.Equal(t, "hello", prompt)
}

func TestHookRegistry_CustomHook(t *testing.T) {
	r := NewHookRegistry()
	r.Register(MessageHook{
		Name:      "fresh_session_note",
		Condition: func(ctx HookContext) bool { return ctx.IsNewSession },
		Suffix:    "NOTE: fresh session",
	})

	prompt := r.Apply("hi", HookContext{IsNewSession: true})
	require.Contains(t, prompt, "NOTE: fresh session")

	prompt = r.Apply("hi", HookContext{IsNewSession: false})
	require.Equal(t, "hi", prompt)
}
