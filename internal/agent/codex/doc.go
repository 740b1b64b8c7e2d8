// Package codex provides a Go interface to headless Codex CLI runs.
//
// Codex emits JSONL with a thread/turn/item lifecycle: thread.started
// announces the session, item.started/updated/completed carry messages
// and tool activity, and turn.completed/turn.failed terminate the run.
// Assistant text is emitted only from completed items so the
// started/updated/completed triple never triple-counts the same text,
// and tool activity only from started items so indicators appear
// promptly.
//
// Codex has no system-prompt flag; system and appended system prompts
// are composed into the prompt text. A stateful thinking filter drops
// the model's pre-tool monologue while preserving the final reply.
package codex
