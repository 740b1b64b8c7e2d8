package claude

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/log"
)

// defaultKnownPaths are checked when the claude binary is not on PATH.
// The local alias install puts it under ~/.claude/local.
var defaultKnownPaths = []string{
	"~/.claude/local/{name}",
	"~/.claude/{name}",
}

func findExecutable() (string, error) {
	return client.NewExecutableFinder("claude").
		WithKnownPaths(defaultKnownPaths...).
		Find()
}

// buildArgs constructs the Claude CLI argument list.
//
// Layout: `-p --output-format {json|stream-json} [--verbose] [flags] -- <prompt>`.
// Streaming switches the format token and injects --verbose; the prompt is
// always the final positional, preceded by `--` so prompts starting with a
// dash cannot be taken for flags.
func buildArgs(cfg client.Config) []string {
	args := []string{"-p"}

	if cfg.Streaming {
		args = append(args, "--output-format", "stream-json", "--verbose")
	} else {
		args = append(args, "--output-format", "json")
	}

	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.SystemPrompt != "" {
		args = append(args, "--system-prompt", cfg.SystemPrompt)
	}
	if cfg.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", cfg.AppendSystemPrompt)
	}
	if cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(cfg.MaxTurns))
	}
	if cfg.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(cfg.MaxBudgetUSD, 'f', -1, 64))
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools")
		args = append(args, cfg.AllowedTools...)
	}
	if len(cfg.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools")
		args = append(args, cfg.DisallowedTools...)
	}

	switch {
	case cfg.ResumeSessionID != "":
		args = append(args, "--resume", cfg.ResumeSessionID)
	case cfg.ContinueSession:
		args = append(args, "--continue")
	}

	if cfg.NoSessionPersistence {
		args = append(args, "--no-session-persistence")
	}

	args = append(args, cfg.ExtraArgs...)
	return append(args, "--", cfg.Prompt)
}

// Spawn starts a headless Claude run.
func Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Inside Docker the container resolves the binary, not the host.
	path := "claude"
	if cfg.DockerContainer == "" {
		var err error
		path, err = findExecutable()
		if err != nil {
			return nil, fmt.Errorf("%w (install via: npm install -g @anthropic-ai/claude-code)", err)
		}
	}

	log.Debug(log.CatCLI, "spawning claude",
		"model", cfg.Model,
		"resume", cfg.ResumeSessionID != "",
		"streaming", cfg.Streaming,
		"permission_mode", cfg.PermissionMode,
		"env", redactEnv(cfg.Env))

	builder := client.NewSpawnBuilder(ctx, cfg).
		WithProviderName("claude").
		WithArgs(append([]string{path}, buildArgs(cfg)...)).
		WithParser(NewParser())
	for k, v := range cfg.Env {
		builder = builder.WithEnv(k, v)
	}
	return builder.Build()
}

// redactEnv renders extra environment for logging, hiding values whose
// keys look like credentials.
func redactEnv(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "token") || strings.Contains(lower, "key") || strings.Contains(lower, "secret") {
			v = "[REDACTED]"
		}
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, " ")
}
