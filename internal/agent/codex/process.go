package codex

import (
	"context"
	"fmt"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/log"
)

func findExecutable() (string, error) {
	return client.NewExecutableFinder("codex").Find()
}

// Spawn starts a headless Codex run.
func Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Inside Docker the container resolves the binary, not the host.
	path := "codex"
	if cfg.DockerContainer == "" {
		var err error
		path, err = findExecutable()
		if err != nil {
			return nil, fmt.Errorf("%w (install via: npm install -g @openai/codex)", err)
		}
	}

	if cfg.ContinueSession && cfg.ResumeSessionID == "" {
		log.Debug(log.CatCLI, "codex has no continue mode, starting new thread", "chat_id", cfg.ChatID)
	}

	log.Debug(log.CatCLI, "spawning codex",
		"model", cfg.Model,
		"resume", cfg.ResumeSessionID != "",
		"effort", cfg.ReasoningEffort,
		"permission_mode", cfg.PermissionMode)

	builder := client.NewSpawnBuilder(ctx, cfg).
		WithProviderName("codex").
		WithArgs(append([]string{path}, buildArgs(cfg)...)).
		WithParser(NewParser()).
		WithFilter(newThinkingFilter())
	for k, v := range cfg.Env {
		builder = builder.WithEnv(k, v)
	}
	return builder.Build()
}
