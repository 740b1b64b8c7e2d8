package orchestrator

import (
	"strings"

	"github.com/ductor/ductor/internal/log"
)

// HookContext is the session snapshot hook conditions evaluate against.
// MessageCount is the pre-increment count: 5 means the 6th message is
// about to be sent.
type HookContext struct {
	ChatID       int64
	MessageCount int
	IsNewSession bool
	Provider     string
	Model        string
}

// MessageHook appends its suffix to the outgoing prompt when the
// condition holds.
type MessageHook struct {
	Name      string
	Condition func(HookContext) bool
	Suffix    string
}

// HookRegistry holds the message hooks applied before each agent call.
type HookRegistry struct {
	hooks []MessageHook
}

// NewHookRegistry returns a registry with the built-in hooks installed.
func NewHookRegistry() *HookRegistry {
	r := &HookRegistry{}
	r.Register(memoryCheckHook)
	return r
}

// Register adds a hook.
func (r *HookRegistry) Register(h MessageHook) {
	r.hooks = append(r.hooks, h)
	log.Debug(log.CatOrch, "hook registered", "name", h.Name)
}

// Apply evaluates every hook and appends the matching suffixes.
func (r *HookRegistry) Apply(prompt string, ctx HookContext) string {
	var suffixes []string
	for _, h := range r.hooks {
		if h.Condition(ctx) {
			log.Info(log.CatOrch, "hook fired", "name", h.Name, "msgs", ctx.MessageCount)
			suffixes = append(suffixes, h.Suffix)
		}
	}
	if len(suffixes) == 0 {
		return prompt
	}
	return prompt + "\n\n" + strings.Join(suffixes, "\n\n")
}

// EveryNMessages fires on every n-th message (6th, 12th, ...), never on
// the first.
func EveryNMessages(n int) func(HookContext) bool {
	return func(ctx HookContext) bool {
		effective := ctx.MessageCount + 1
		return effective >= n && effective%n == 0
	}
}

var memoryCheckHook = MessageHook{
	Name:      "memory_check",
	Condition: EveryNMessages(6),
	Suffix: "## MEMORY CHECK\n" +
		"Silently review: memory_system/MAINMEMORY.md, user_tools/, cron_tasks/.\n" +
		"Compare what you already know with this conversation so far.\n" +
		"If something important is missing from memory (personality, preferences, " +
		"decisions, facts) -- update MAINMEMORY.md silently.\n" +
		"If you notice a gap that only the user can fill, ask ONE natural follow-up " +
		"question that fits the current conversation. Do not interrogate.",
}
