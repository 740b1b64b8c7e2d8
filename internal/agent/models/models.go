// Package models resolves model names to providers, with cross-provider
// fallback when the native provider's CLI is not installed.
package models

import (
	"fmt"
	"strings"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/log"
)

// claudeModels are the short aliases the Claude CLI accepts. Codex and
// Gemini models are discovered or matched by prefix instead.
var claudeModels = map[string]bool{
	"haiku":  true,
	"sonnet": true,
	"opus":   true,
}

// equivalence maps a model to its closest counterpart on the other
// provider, used when the native provider is unavailable.
var equivalence = map[string]string{
	"opus":                "gpt-5.2-codex",
	"sonnet":              "gpt-5.1-codex-mini",
	"haiku":               "gpt-5.1-codex-mini",
	"gpt-5.2-codex":       "opus",
	"gpt-5.1-codex-max":   "opus",
	"gpt-5.1-codex-mini":  "sonnet",
	"gpt-5.2":             "opus",
	"gpt-5.3-codex":       "opus",
}

// claudeFallbackModel is used when falling back to Claude with no
// equivalent mapping.
const claudeFallbackModel = "opus"

// IsClaudeModel reports whether the name is a known Claude alias.
func IsClaudeModel(model string) bool {
	return claudeModels[model]
}

// ClaudeModels returns the known Claude aliases.
func ClaudeModels() []string {
	return []string{"haiku", "sonnet", "opus"}
}

// ProviderFor returns the native provider for a model name. Claude
// aliases are hardcoded, gemini models are matched by prefix, and
// everything else is assumed to be a Codex model.
func ProviderFor(model string) client.ClientType {
	switch {
	case claudeModels[model]:
		return client.ClientClaude
	case strings.HasPrefix(model, "gemini"):
		return client.ClientGemini
	default:
		return client.ClientCodex
	}
}

// Equivalent returns the cross-provider counterpart for a model, or
// empty when none is mapped.
func Equivalent(model string) string {
	return equivalence[model]
}

// Registry resolves models against the set of installed provider CLIs.
type Registry struct {
	available map[client.ClientType]bool
}

// NewRegistry creates a registry for the given available providers.
func NewRegistry(available []client.ClientType) *Registry {
	m := make(map[client.ClientType]bool, len(available))
	for _, t := range available {
		m[t] = true
	}
	return &Registry{available: m}
}

// DetectRegistry probes every registered provider client for its binary
// and returns a registry of the ones found.
func DetectRegistry() *Registry {
	var available []client.ClientType
	for _, t := range client.RegisteredClients() {
		c, err := client.NewClient(t)
		if err != nil {
			continue
		}
		if c.IsAvailable() {
			available = append(available, t)
		}
	}
	return NewRegistry(available)
}

// Available reports whether a provider CLI is installed.
func (r *Registry) Available(t client.ClientType) bool {
	return r.available[t]
}

// AvailableProviders lists installed providers in registration order.
func (r *Registry) AvailableProviders() []client.ClientType {
	var out []client.ClientType
	for _, t := range []client.ClientType{client.ClientClaude, client.ClientCodex, client.ClientGemini} {
		if r.available[t] {
			out = append(out, t)
		}
	}
	return out
}

// Resolve maps a model name to (model, provider) honoring availability.
//
// Order: the native provider when installed; the equivalence-mapped
// model when its provider is installed; any installed provider (Claude
// falls back to opus, others keep the name verbatim); error when no
// provider is installed at all.
func (r *Registry) Resolve(model string) (string, client.ClientType, error) {
	native := ProviderFor(model)
	if r.available[native] {
		return model, native, nil
	}

	if eq := equivalence[model]; eq != "" {
		eqProvider := ProviderFor(eq)
		if r.available[eqProvider] {
			log.Info(log.CatCLI, "model fallback",
				"from", model, "from_provider", native.String(),
				"to", eq, "to_provider", eqProvider.String())
			return eq, eqProvider, nil
		}
	}

	for _, fallback := range r.AvailableProviders() {
		fallbackModel := model
		if fallback == client.ClientClaude {
			fallbackModel = claudeFallbackModel
		}
		log.Warn(log.CatCLI, "no equivalent model, using fallback provider",
			"model", model, "fallback_model", fallbackModel,
			"provider", fallback.String())
		return fallbackModel, fallback, nil
	}

	return "", "", fmt.Errorf("no available provider for model %q", model)
}
