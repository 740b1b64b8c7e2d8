package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/log"
)

// defaultTimeout matches the Gemini CLI's own request deadline; runs
// longer than this are almost always hung on a permission prompt.
const defaultTimeout = 300 * time.Second

// trustValue is what the Gemini CLI expects per trusted path.
const trustValue = "TRUST_FOLDER"

func findExecutable() (string, error) {
	if js := findCLIJS(); js != "" {
		return js, nil
	}
	return client.NewExecutableFinder("gemini").Find()
}

// findCLIJS locates the Gemini CLI's entry script in the global npm
// tree. Running the script through node directly avoids a shell shim
// that swallows signals on some platforms.
func findCLIJS() string {
	npm, err := exec.LookPath("npm")
	if err != nil {
		return ""
	}
	out, err := exec.Command(npm, "root", "-g").Output()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(strings.TrimSpace(string(out)), "@google", "gemini-cli", "dist", "index.js")
	if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

// buildArgs constructs the Gemini CLI argument list.
//
// Layout: `--output-format {json|stream-json} --include-directories .
// [--model M] [--approval-mode yolo] [--resume SID|latest]
// [--allowed-tools ...]`. The prompt is not an argument; it is written
// to stdin by the spawn builder.
func buildArgs(cfg client.Config) []string {
	args := []string{"--output-format"}
	if cfg.Streaming {
		args = append(args, "stream-json")
	} else {
		args = append(args, "json")
	}
	args = append(args, "--include-directories", ".")

	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.PermissionMode == "bypassPermissions" {
		args = append(args, "--approval-mode", "yolo")
	}

	switch {
	case cfg.ResumeSessionID != "":
		args = append(args, "--resume", cfg.ResumeSessionID)
	case cfg.ContinueSession:
		args = append(args, "--resume", "latest")
	}

	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowed-tools")
		args = append(args, cfg.AllowedTools...)
	}

	return append(args, cfg.ExtraArgs...)
}

// trustWorkspace upserts the working directory into
// ~/.gemini/trustedFolders.json. Without the entry the CLI exits with a
// trust prompt that a headless run can never answer. Failures are
// logged and ignored; the spawn itself will surface the real error.
func trustWorkspace(workDir string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		abs = workDir
	}

	geminiHome := filepath.Join(home, ".gemini")
	trustFile := filepath.Join(geminiHome, "trustedFolders.json")

	data := make(map[string]string)
	if content, readErr := os.ReadFile(trustFile); readErr == nil {
		if unmarshalErr := json.Unmarshal(content, &data); unmarshalErr != nil {
			log.Warn(log.CatCLI, "corrupt gemini trust file, starting fresh", "path", trustFile)
			data = make(map[string]string)
		}
	}

	if _, ok := data[abs]; ok {
		return
	}
	data[abs] = trustValue

	if err := os.MkdirAll(geminiHome, 0o755); err != nil {
		log.Warn(log.CatCLI, "failed to update gemini trusted folders", "error", err)
		return
	}
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(trustFile, content, 0o644); err != nil {
		log.Warn(log.CatCLI, "failed to update gemini trusted folders", "error", err)
		return
	}
	log.Info(log.CatCLI, "trusted workspace in gemini cli", "path", abs)
}

// writeSystemPromptFile writes the system prompt (plus any appended
// prompt) to a temp markdown file referenced via GEMINI_SYSTEM_MD. The
// caller removes the file once the process exits.
func writeSystemPromptFile(cfg client.Config) (string, error) {
	if cfg.SystemPrompt == "" && cfg.AppendSystemPrompt == "" {
		return "", nil
	}
	f, err := os.CreateTemp("", "gemini-system-*.md")
	if err != nil {
		return "", fmt.Errorf("creating system prompt file: %w", err)
	}
	content := cfg.SystemPrompt + "\n\n" + cfg.AppendSystemPrompt
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing system prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing system prompt file: %w", err)
	}
	return f.Name(), nil
}

// Spawn starts a headless Gemini run.
func Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Inside Docker the container resolves the binary, not the host.
	argv := []string{"gemini"}
	if cfg.DockerContainer == "" {
		path, err := findExecutable()
		if err != nil {
			return nil, fmt.Errorf("%w (install via: npm install -g @google/gemini-cli)", err)
		}
		if strings.HasSuffix(path, ".js") {
			argv = []string{"node", path}
		} else {
			argv = []string{path}
		}
		trustWorkspace(cfg.WorkDir)
	}

	promptPath, err := writeSystemPromptFile(cfg)
	if err != nil {
		return nil, err
	}

	log.Debug(log.CatCLI, "spawning gemini",
		"model", cfg.Model,
		"resume", cfg.IsResume(),
		"streaming", cfg.Streaming,
		"permission_mode", cfg.PermissionMode)

	builder := client.NewSpawnBuilder(ctx, cfg).
		WithProviderName("gemini").
		WithArgs(append(argv, buildArgs(cfg)...)).
		WithParser(NewParser()).
		WithStdinData(cfg.Prompt).
		WithDefaultTimeout(defaultTimeout).
		WithEnv("GEMINI_IDE_ENABLED", "false")
	if promptPath != "" {
		builder = builder.WithEnv("GEMINI_SYSTEM_MD", promptPath)
	}
	for k, v := range cfg.Env {
		builder = builder.WithEnv(k, v)
	}

	proc, err := builder.Build()
	if err != nil {
		if promptPath != "" {
			os.Remove(promptPath)
		}
		return nil, err
	}
	if promptPath != "" {
		go func() {
			proc.Wait()
			os.Remove(promptPath)
		}()
	}
	return proc, nil
}
