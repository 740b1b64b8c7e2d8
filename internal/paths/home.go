// Package paths resolves the ductor home directory layout.
package paths

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the home directory location when set.
const EnvHome = "DUCTOR_HOME"

// Home locates every file ductor persists. All state lives under a single
// root so the daemon can be relocated by setting one environment variable.
type Home struct {
	Root string
}

// Resolve determines the home directory.
//
// Resolution order:
//   - explicit override (--home flag)
//   - DUCTOR_HOME environment variable
//   - ~/.ductor
func Resolve(override string) Home {
	if override != "" {
		return Home{Root: filepath.Clean(override)}
	}
	if env := os.Getenv(EnvHome); env != "" {
		return Home{Root: filepath.Clean(env)}
	}
	base, err := os.UserHomeDir()
	if err != nil {
		// Fall back to the working directory when $HOME is unset.
		return Home{Root: ".ductor"}
	}
	return Home{Root: filepath.Join(base, ".ductor")}
}

// EnsureLayout creates the home directory tree if missing.
func (h Home) EnsureLayout() error {
	for _, dir := range []string{h.Root, h.DownloadsDir(), h.OutputsDir(), h.TasksDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// ConfigFile is the daemon configuration.
func (h Home) ConfigFile() string { return filepath.Join(h.Root, "config.json") }

// SessionsFile holds per-chat provider sessions.
func (h Home) SessionsFile() string { return filepath.Join(h.Root, "sessions.json") }

// CronJobsFile holds scheduled jobs.
func (h Home) CronJobsFile() string { return filepath.Join(h.Root, "cron_jobs.json") }

// WebhooksFile holds webhook definitions and the server auth token.
func (h Home) WebhooksFile() string { return filepath.Join(h.Root, "webhooks.json") }

// CodexModelsFile caches the codex CLI's model listing.
func (h Home) CodexModelsFile() string { return filepath.Join(h.Root, "codex_models.json") }

// HistoryDB is the sqlite run-history database.
func (h Home) HistoryDB() string { return filepath.Join(h.Root, "history.db") }

// LogFile is the daemon log.
func (h Home) LogFile() string { return filepath.Join(h.Root, "ductor.log") }

// DownloadsDir receives files fetched on behalf of chats; subject to cleanup.
func (h Home) DownloadsDir() string { return filepath.Join(h.Root, "downloads") }

// OutputsDir receives files produced for the user; subject to cleanup.
func (h Home) OutputsDir() string { return filepath.Join(h.Root, "outputs") }

// TasksDir contains one folder per cron task.
func (h Home) TasksDir() string { return filepath.Join(h.Root, "tasks") }

// TaskFolder returns the folder for a named cron task.
func (h Home) TaskFolder(name string) string { return filepath.Join(h.TasksDir(), name) }
