// Package params merges global configuration with per-task overrides and
// validates the result against what the installed CLIs actually support.
// It is the single authority scheduled tasks, webhooks, and chat commands
// go through before spawning a provider.
package params

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/ductor/ductor/internal/agent/codex"
	"github.com/ductor/ductor/internal/atomicfile"
	"github.com/ductor/ductor/internal/cachemanager"
	"github.com/ductor/ductor/internal/log"
)

const (
	catalogKey    = "codex-models"
	catalogMaxAge = 24 * time.Hour
	memoryTTL     = 5 * time.Minute
)

// ModelCatalog is the persisted set of Codex models, refreshed from the
// app-server at most once per day.
type ModelCatalog struct {
	LastUpdated time.Time         `json:"last_updated"`
	Models      []codex.ModelInfo `json:"models"`
}

// Lookup returns the model with the given ID.
func (c ModelCatalog) Lookup(id string) (codex.ModelInfo, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return codex.ModelInfo{}, false
}

// Has reports whether the catalog knows the model ID.
func (c ModelCatalog) Has(id string) bool {
	_, ok := c.Lookup(id)
	return ok
}

// SupportsEffort reports whether the model accepts the reasoning effort.
// Unknown models and models without effort support report false.
func (c ModelCatalog) SupportsEffort(id, effort string) bool {
	m, ok := c.Lookup(id)
	if !ok {
		return false
	}
	return m.SupportsEffort(effort)
}

// CatalogStore loads the catalog through an in-process cache backed by the
// codex_models.json file, rediscovering from the app-server when the file
// is stale, empty, or unreadable.
type CatalogStore struct {
	path     string
	discover func(ctx context.Context) []codex.ModelInfo
	now      func() time.Time
	cache    *cachemanager.ReadThroughCache[string, ModelCatalog, bool]
}

// NewCatalogStore builds a store over the given cache file path.
func NewCatalogStore(path string) *CatalogStore {
	s := &CatalogStore{
		path:     path,
		discover: codex.DiscoverModels,
		now:      time.Now,
	}
	mem := cachemanager.NewInMemoryCacheManager[string, ModelCatalog](
		"codex-models", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	s.cache = cachemanager.NewReadThroughCache[string, ModelCatalog, bool](mem, s.loadOrRefresh, false)
	return s
}

// Load returns the current catalog, hitting disk or the app-server only
// when the in-process copy has expired.
func (s *CatalogStore) Load(ctx context.Context) (ModelCatalog, error) {
	return s.cache.Get(ctx, catalogKey, false, memoryTTL)
}

// Refresh drops all cached state and rediscovers from the app-server.
func (s *CatalogStore) Refresh(ctx context.Context) (ModelCatalog, error) {
	if err := s.cache.Invalidate(ctx, catalogKey); err != nil {
		return ModelCatalog{}, err
	}
	return s.cache.Get(ctx, catalogKey, true, memoryTTL)
}

func (s *CatalogStore) loadOrRefresh(ctx context.Context, force bool) (ModelCatalog, error) {
	if !force {
		if cat, ok := s.loadFile(); ok {
			return cat, nil
		}
	}

	models := s.discover(ctx)
	cat := ModelCatalog{LastUpdated: s.now().UTC(), Models: models}
	if err := atomicfile.WriteJSON(s.path, cat); err != nil {
		// Keep serving the discovered set even when the save fails.
		log.Warn(log.CatCLI, "failed to save codex model catalog", "path", s.path, "error", err)
	}
	return cat, nil
}

// loadFile returns the on-disk catalog when it is fresh and non-empty.
func (s *CatalogStore) loadFile() (ModelCatalog, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ModelCatalog{}, false
	}
	var cat ModelCatalog
	if err := json.Unmarshal(data, &cat); err != nil {
		log.Warn(log.CatCLI, "corrupt codex model catalog, rediscovering", "path", s.path, "error", err)
		return ModelCatalog{}, false
	}
	if len(cat.Models) == 0 || s.now().UTC().Sub(cat.LastUpdated) >= catalogMaxAge {
		return ModelCatalog{}, false
	}
	return cat, true
}
