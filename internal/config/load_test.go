package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ductor/ductor/internal/paths"
)

func testHome(t *testing.T) paths.Home {
	t.Helper()
	return paths.Home{Root: t.TempDir()}
}

func TestLoad_CreatesDefaultFileOnFirstRun(t *testing.T) {
	home := testHome(t)

	cfg, added, err := Load(home)
	require.NoError(t, err)
	require.Positive(t, added)
	require.Equal(t, ProviderClaude, cfg.Provider)
	require.FileExists(t, home.ConfigFile())

	// The written file parses as JSON and contains the full surface.
	data, err := os.ReadFile(home.ConfigFile())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "provider")
	require.Contains(t, raw, "heartbeat")
	require.Contains(t, raw, "webhook")
}

func TestLoad_PreservesUserValuesOnMerge(t *testing.T) {
	home := testHome(t)
	partial := `{"provider": "codex", "model": "gpt-5.2-codex", "cli_timeout_secs": 120}`
	require.NoError(t, os.WriteFile(home.ConfigFile(), []byte(partial), 0644))

	cfg, added, err := Load(home)
	require.NoError(t, err)
	require.Positive(t, added, "missing sections should be counted as added")
	require.Equal(t, "codex", cfg.Provider)
	require.Equal(t, "gpt-5.2-codex", cfg.Model)
	require.Equal(t, 120, cfg.CLITimeoutSecs)
	// Defaults filled in for the rest.
	require.Equal(t, 50, cfg.Session.MaxMessages)
	require.Equal(t, 8742, cfg.Webhook.Port)
}

func TestLoad_WritesMergedKeysBack(t *testing.T) {
	home := testHome(t)
	partial := `{"provider": "claude"}`
	require.NoError(t, os.WriteFile(home.ConfigFile(), []byte(partial), 0644))

	_, added, err := Load(home)
	require.NoError(t, err)
	require.Positive(t, added)

	// Second load sees a complete file.
	_, added, err = Load(home)
	require.NoError(t, err)
	require.Zero(t, added)
}

func TestLoad_RejectsCorruptJSON(t *testing.T) {
	home := testHome(t)
	require.NoError(t, os.WriteFile(home.ConfigFile(), []byte("{not json"), 0644))

	_, _, err := Load(home)
	require.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	home := testHome(t)
	bad := `{"cli_timeout_secs": -5}`
	require.NoError(t, os.WriteFile(home.ConfigFile(), []byte(bad), 0644))

	_, _, err := Load(home)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cli_timeout_secs")
}

func TestStore_ReloadSwapsSnapshot(t *testing.T) {
	home := testHome(t)

	store, _, err := NewStore(home)
	require.NoError(t, err)
	require.Equal(t, ProviderClaude, store.Snapshot().Provider)

	// Edit the file out from under the store.
	data, err := os.ReadFile(home.ConfigFile())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["provider"] = "gemini"
	out, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(home.ConfigFile(), out, 0644))

	_, err = store.Reload()
	require.NoError(t, err)
	require.Equal(t, "gemini", store.Snapshot().Provider)
}

func TestStore_FailedReloadKeepsOldSnapshot(t *testing.T) {
	home := testHome(t)

	store, _, err := NewStore(home)
	require.NoError(t, err)
	old := store.Snapshot()

	require.NoError(t, os.WriteFile(home.ConfigFile(), []byte("{broken"), 0644))

	_, err = store.Reload()
	require.Error(t, err)
	require.Same(t, old, store.Snapshot())
}

func TestResolveLocation_ConfiguredNameWins(t *testing.T) {
	loc := ResolveLocation("America/New_York")
	require.Equal(t, "America/New_York", loc.String())
}

func TestResolveLocation_FallsBackToTZEnv(t *testing.T) {
	t.Setenv("TZ", "Europe/Berlin")

	loc := ResolveLocation("")
	require.Equal(t, "Europe/Berlin", loc.String())
}

func TestResolveLocation_GarbageFallsThrough(t *testing.T) {
	t.Setenv("TZ", "")

	loc := ResolveLocation("Not/AZone")
	require.NotNil(t, loc)
}

func TestConfigFilePathUnderHome(t *testing.T) {
	home := paths.Home{Root: "/data/ductor"}
	require.Equal(t, filepath.Join("/data/ductor", "config.json"), home.ConfigFile())
}
