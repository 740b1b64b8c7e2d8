package client

import (
	"fmt"
	"strings"
	"time"
)

// Config carries everything a provider needs to spawn one CLI run. Fields
// that a provider does not support are ignored by its argv builder.
type Config struct {
	// WorkDir is the working directory for the spawned process. Ignored
	// when DockerContainer is set; the container decides its own cwd.
	WorkDir string

	// Prompt is the user prompt text.
	Prompt string

	// SystemPrompt replaces the base system prompt where the provider
	// supports it. Providers without a system-prompt flag compose it into
	// the prompt text or deliver it out of band.
	SystemPrompt string

	// AppendSystemPrompt is appended after the provider's own system
	// prompt. Used for memory-file injection.
	AppendSystemPrompt string

	// Model selects the provider model. Empty uses the provider default.
	Model string

	// ResumeSessionID resumes an existing provider session.
	ResumeSessionID string

	// ContinueSession resumes the provider's most recent thread instead
	// of a specific session. Mutually exclusive with ResumeSessionID;
	// ResumeSessionID wins when both are set.
	ContinueSession bool

	// Streaming selects the line-delimited streaming output format. When
	// false, providers that support it emit a single aggregate JSON
	// object instead.
	Streaming bool

	// PermissionMode controls tool approval behavior. Claude passes it
	// through; Codex maps it onto sandbox flags; Gemini maps the
	// unrestricted mode onto --approval-mode yolo.
	PermissionMode string

	// SandboxMode is the Codex sandbox policy when PermissionMode does
	// not already bypass it. Empty means read-only.
	SandboxMode string

	// ReasoningEffort is Codex-only model reasoning configuration.
	ReasoningEffort string

	// AllowedTools and DisallowedTools restrict the tool surface where
	// the provider supports it.
	AllowedTools    []string
	DisallowedTools []string

	// MaxTurns bounds agent turns (claude). Zero means unlimited.
	MaxTurns int

	// MaxBudgetUSD bounds spend (claude). Zero means unlimited.
	MaxBudgetUSD float64

	// NoSessionPersistence disables provider-side session storage for
	// one-shot runs such as cron tasks.
	NoSessionPersistence bool

	// InstructionsPath points Codex at an instructions file.
	InstructionsPath string

	// Images are attached to the Codex prompt.
	Images []string

	// DockerContainer, when non-empty, wraps the command in
	// `docker exec` against the named container.
	DockerContainer string

	// ChatID identifies the conversation this run belongs to. Exported to
	// the child as DUCTOR_CHAT_ID under Docker.
	ChatID int64

	// Label is a short human-readable description for process tracking.
	Label string

	// Timeout bounds wall-clock run time. Zero applies the provider
	// default.
	Timeout time.Duration

	// ExtraArgs are provider-specific arguments appended verbatim before
	// the prompt separator.
	ExtraArgs []string

	// Env adds variables to the child environment beyond the inherited
	// set.
	Env map[string]string
}

// Validate checks the config for caller contract violations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// ComposedPrompt joins system prompt, user prompt, and appended system
// prompt into a single text block for providers with no system-prompt
// flag. Empty parts are skipped.
func (c Config) ComposedPrompt() string {
	parts := make([]string, 0, 3)
	if strings.TrimSpace(c.SystemPrompt) != "" {
		parts = append(parts, c.SystemPrompt)
	}
	parts = append(parts, c.Prompt)
	if strings.TrimSpace(c.AppendSystemPrompt) != "" {
		parts = append(parts, c.AppendSystemPrompt)
	}
	return strings.Join(parts, "\n\n")
}

// IsResume reports whether this run resumes prior provider state.
func (c Config) IsResume() bool {
	return c.ResumeSessionID != "" || c.ContinueSession
}
