package params

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/paths"
)

func testConf(t *testing.T, overrides map[string]any) *config.Store {
	t.Helper()
	home := paths.Home{Root: t.TempDir()}
	if len(overrides) > 0 {
		data, err := json.Marshal(overrides)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(home.ConfigFile(), data, 0644))
	}
	conf, _, err := config.NewStore(home)
	require.NoError(t, err)
	return conf
}

func TestResolver_DefaultsFromConfig(t *testing.T) {
	r := NewResolver(testConf(t, nil), nil)

	got, err := r.Resolve(context.Background(), Overrides{})
	require.NoError(t, err)
	require.Equal(t, "claude", got.Provider)
	require.Equal(t, "opus", got.Model)
	require.Empty(t, got.ReasoningEffort) // claude never carries effort
	require.Equal(t, "bypassPermissions", got.PermissionMode)
}

func TestResolver_OverridesWin(t *testing.T) {
	r := NewResolver(testConf(t, nil), nil)

	got, err := r.Resolve(context.Background(), Overrides{
		Model:         "sonnet",
		CLIParameters: []string{"--verbose"},
	})
	require.NoError(t, err)
	require.Equal(t, "sonnet", got.Model)
	require.Equal(t, []string{"--verbose"}, got.CLIParameters)
}

func TestResolver_RejectsUnknownClaudeModel(t *testing.T) {
	r := NewResolver(testConf(t, nil), nil)

	_, err := r.Resolve(context.Background(), Overrides{Model: "gpt-5.2"})
	require.ErrorContains(t, err, "invalid claude model")
}

func TestResolver_GeminiModelPassesThrough(t *testing.T) {
	r := NewResolver(testConf(t, nil), nil)

	got, err := r.Resolve(context.Background(), Overrides{
		Provider: "gemini",
		Model:    "gemini-2.5-pro",
	})
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-pro", got.Model)
	require.Empty(t, got.ReasoningEffort)
}

func TestResolver_CodexRequiresCatalog(t *testing.T) {
	r := NewResolver(testConf(t, nil), nil)

	_, err := r.Resolve(context.Background(), Overrides{Provider: "codex", Model: "gpt-5.2-codex"})
	require.ErrorContains(t, err, "catalog")
}

func TestResolver_CodexValidatesAgainstCatalog(t *testing.T) {
	catalog, _ := testCatalog(t, testModels)
	r := NewResolver(testConf(t, nil), catalog)

	got, err := r.Resolve(context.Background(), Overrides{Provider: "codex", Model: "gpt-5.2-codex"})
	require.NoError(t, err)
	require.Equal(t, "medium", got.ReasoningEffort) // config default effort

	_, err = r.Resolve(context.Background(), Overrides{Provider: "codex", Model: "gpt-9000"})
	require.ErrorContains(t, err, "unknown codex model")
}

func TestResolver_EffortDroppedWhenUnsupported(t *testing.T) {
	catalog, _ := testCatalog(t, testModels)
	r := NewResolver(testConf(t, nil), catalog)

	// gpt-5.1-codex-mini advertises no efforts at all.
	got, err := r.Resolve(context.Background(), Overrides{
		Provider:        "codex",
		Model:           "gpt-5.1-codex-mini",
		ReasoningEffort: "high",
	})
	require.NoError(t, err)
	require.Empty(t, got.ReasoningEffort)
}

func TestResolver_EffortOverrideWinsWhenSupported(t *testing.T) {
	catalog, _ := testCatalog(t, testModels)
	r := NewResolver(testConf(t, nil), catalog)

	got, err := r.Resolve(context.Background(), Overrides{
		Provider:        "codex",
		Model:           "gpt-5.2-codex",
		ReasoningEffort: "high",
	})
	require.NoError(t, err)
	require.Equal(t, "high", got.ReasoningEffort)
}
