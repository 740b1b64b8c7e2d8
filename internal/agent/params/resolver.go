package params

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ductor/ductor/internal/agent/models"
	"github.com/ductor/ductor/internal/config"
)

// Overrides carries per-task settings from a cron job or webhook entry.
// Empty fields fall back to the global configuration.
type Overrides struct {
	Provider        string
	Model           string
	ReasoningEffort string
	CLIParameters   []string
}

// ExecutionConfig is the validated result of merging config and overrides
// for one CLI invocation.
type ExecutionConfig struct {
	Provider        string
	Model           string
	ReasoningEffort string
	CLIParameters   []string
	PermissionMode  string
	WorkingDir      string
}

// Resolver merges global config with task overrides and validates models
// against what each provider accepts.
type Resolver struct {
	conf    *config.Store
	catalog *CatalogStore
}

func NewResolver(conf *config.Store, catalog *CatalogStore) *Resolver {
	return &Resolver{conf: conf, catalog: catalog}
}

// Resolve merges and validates. Claude models come from the fixed alias
// set, Gemini models pass through, and Codex models must exist in the
// discovered catalog. Reasoning effort applies to Codex only and is
// dropped when the model does not support it.
func (r *Resolver) Resolve(ctx context.Context, o Overrides) (ExecutionConfig, error) {
	cfg := r.conf.Snapshot()

	provider := o.Provider
	if provider == "" {
		provider = cfg.Provider
	}
	model := o.Model
	if model == "" {
		model = cfg.Model
	}

	var catalog ModelCatalog
	switch provider {
	case config.ProviderClaude:
		if !models.IsClaudeModel(model) {
			return ExecutionConfig{}, fmt.Errorf(
				"invalid claude model %q: must be one of %s", model, strings.Join(models.ClaudeModels(), ", "))
		}
	case config.ProviderGemini:
		// Gemini accepts any model name; the CLI rejects unknowns itself.
	default:
		if r.catalog == nil {
			return ExecutionConfig{}, fmt.Errorf("codex model validation requires a model catalog")
		}
		cat, err := r.catalog.Load(ctx)
		if err != nil {
			return ExecutionConfig{}, fmt.Errorf("loading codex model catalog: %w", err)
		}
		if !cat.Has(model) {
			return ExecutionConfig{}, fmt.Errorf("unknown codex model %q", model)
		}
		catalog = cat
	}

	effort := ""
	if provider == config.ProviderCodex {
		requested := o.ReasoningEffort
		if requested == "" {
			requested = cfg.ReasoningEffort
		}
		if requested != "" && catalog.SupportsEffort(model, requested) {
			effort = requested
		}
	}

	return ExecutionConfig{
		Provider:        provider,
		Model:           model,
		ReasoningEffort: effort,
		CLIParameters:   slices.Clone(o.CLIParameters),
		PermissionMode:  cfg.PermissionMode,
		WorkingDir:      cfg.DefaultWorkspace,
	}, nil
}
