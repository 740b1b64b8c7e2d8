package params

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ductor/ductor/internal/agent/codex"
)

func testCatalog(t *testing.T, discovered []codex.ModelInfo) (*CatalogStore, *int) {
	t.Helper()
	calls := 0
	s := NewCatalogStore(filepath.Join(t.TempDir(), "codex_models.json"))
	s.discover = func(ctx context.Context) []codex.ModelInfo {
		calls++
		return discovered
	}
	return s, &calls
}

var testModels = []codex.ModelInfo{
	{ID: "gpt-5.2-codex", DisplayName: "GPT-5.2 Codex", SupportedEfforts: []string{"low", "medium", "high"}, DefaultEffort: "medium", IsDefault: true},
	{ID: "gpt-5.1-codex-mini", DisplayName: "GPT-5.1 Codex Mini"},
}

func TestCatalogStore_DiscoversWhenFileMissing(t *testing.T) {
	s, calls := testCatalog(t, testModels)

	cat, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Models, 2)
	require.Equal(t, 1, *calls)
	require.FileExists(t, s.path)
}

func TestCatalogStore_UsesFreshFile(t *testing.T) {
	s, calls := testCatalog(t, testModels)

	_, err := s.Load(context.Background())
	require.NoError(t, err)

	// A second store over the same file must not rediscover.
	again := NewCatalogStore(s.path)
	again.discover = s.discover

	cat, err := again.Load(context.Background())
	require.NoError(t, err)
	require.True(t, cat.Has("gpt-5.2-codex"))
	require.Equal(t, 1, *calls)
}

func TestCatalogStore_RefreshesStaleFile(t *testing.T) {
	s, calls := testCatalog(t, testModels)
	stale := ModelCatalog{
		LastUpdated: time.Now().UTC().Add(-25 * time.Hour),
		Models:      []codex.ModelInfo{{ID: "retired-model"}},
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.path, data, 0644))

	cat, err := s.Load(context.Background())
	require.NoError(t, err)
	require.False(t, cat.Has("retired-model"))
	require.True(t, cat.Has("gpt-5.2-codex"))
	require.Equal(t, 1, *calls)
}

func TestCatalogStore_RefreshesEmptyFreshFile(t *testing.T) {
	s, calls := testCatalog(t, testModels)
	empty := ModelCatalog{LastUpdated: time.Now().UTC()}
	data, err := json.Marshal(empty)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.path, data, 0644))

	cat, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Models, 2)
	require.Equal(t, 1, *calls)
}

func TestCatalogStore_CorruptFileRediscovers(t *testing.T) {
	s, calls := testCatalog(t, testModels)
	require.NoError(t, os.WriteFile(s.path, []byte("{broken"), 0644))

	cat, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Models, 2)
	require.Equal(t, 1, *calls)
}

func TestCatalogStore_DiscoveryFailureYieldsEmptyCatalog(t *testing.T) {
	s, _ := testCatalog(t, nil)

	cat, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, cat.Models)
	require.False(t, cat.Has("gpt-5.2-codex"))
}

func TestCatalogStore_ForceRefreshSkipsFreshFile(t *testing.T) {
	s, calls := testCatalog(t, testModels)

	_, err := s.Load(context.Background())
	require.NoError(t, err)

	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, *calls)
}

func TestModelCatalog_SupportsEffort(t *testing.T) {
	cat := ModelCatalog{Models: testModels}

	require.True(t, cat.SupportsEffort("gpt-5.2-codex", "high"))
	require.False(t, cat.SupportsEffort("gpt-5.2-codex", "extreme"))
	require.False(t, cat.SupportsEffort("gpt-5.1-codex-mini", "high"))
	require.False(t, cat.SupportsEffort("unknown", "high"))
}
