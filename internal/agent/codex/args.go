package codex

import "github.com/ductor/ductor/internal/agent/client"

// buildArgs constructs the command line arguments for Codex CLI.
//
// For new threads (exec):
//   - Base: ["exec", "--json", "--color", "never"]
//   - Sandbox: permission flags (see sandboxArgs)
//   - Always: ["--skip-git-repo-check"]
//   - Model: ["--model", "<model>"]
//   - Effort: ["-c", "model_reasoning_effort=<effort>"] unless default
//   - Instructions: ["--instructions", "<path>"]
//   - Images: ["--image", "<path>"] per image
//   - Extra args, then ["--", "<composed prompt>"]
//
// For resumed threads (exec resume):
//   - Base: ["exec", "resume", "--json"]
//   - Sandbox flags
//   - ["--", "<thread id>", "<composed prompt>"]
//
// The resume subcommand does not accept --model, --color, or
// --skip-git-repo-check. Codex has no system-prompt flag, so the
// composed prompt folds system and appended prompts into the text.
func buildArgs(cfg client.Config) []string {
	prompt := cfg.ComposedPrompt()

	if cfg.ResumeSessionID != "" {
		args := []string{"exec", "resume", "--json"}
		args = append(args, sandboxArgs(cfg)...)
		return append(args, "--", cfg.ResumeSessionID, prompt)
	}

	args := []string{"exec", "--json", "--color", "never"}
	args = append(args, sandboxArgs(cfg)...)
	args = append(args, "--skip-git-repo-check")

	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.ReasoningEffort != "" && cfg.ReasoningEffort != "default" {
		args = append(args, "-c", "model_reasoning_effort="+cfg.ReasoningEffort)
	}
	if cfg.InstructionsPath != "" {
		args = append(args, "--instructions", cfg.InstructionsPath)
	}
	for _, img := range cfg.Images {
		args = append(args, "--image", img)
	}
	args = append(args, cfg.ExtraArgs...)

	return append(args, "--", prompt)
}

// sandboxArgs maps permission and sandbox settings onto Codex flags.
// bypassPermissions disables both approvals and the sandbox; otherwise
// the sandbox mode decides, defaulting to read-only.
func sandboxArgs(cfg client.Config) []string {
	if cfg.PermissionMode == "bypassPermissions" {
		return []string{"--dangerously-bypass-approvals-and-sandbox"}
	}
	switch cfg.SandboxMode {
	case "full-access":
		return []string{"--sandbox", "danger-full-access"}
	case "workspace-write":
		return []string{"--full-auto"}
	case "":
		return []string{"--sandbox", "read-only"}
	default:
		return []string{"--sandbox", cfg.SandboxMode}
	}
}
