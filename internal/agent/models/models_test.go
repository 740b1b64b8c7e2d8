package models

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ductor/ductor/internal/agent/client"
)

func TestProviderFor(t *testing.T) {
	require.Equal(t, client.ClientClaude, ProviderFor("opus"))
	require.Equal(t, client.ClientClaude, ProviderFor("sonnet"))
	require.Equal(t, client.ClientClaude, ProviderFor("haiku"))
	require.Equal(t, client.ClientGemini, ProviderFor("gemini-2.5-pro"))
	require.Equal(t, client.ClientCodex, ProviderFor("gpt-5.2-codex"))
	require.Equal(t, client.ClientCodex, ProviderFor("anything-else"))
}

func TestResolve_NativeAvailable(t *testing.T) {
	r := NewRegistry([]client.ClientType{client.ClientClaude, client.ClientCodex})

	model, provider, err := r.Resolve("sonnet")
	require.NoError(t, err)
	require.Equal(t, "sonnet", model)
	require.Equal(t, client.ClientClaude, provider)
}

func TestResolve_EquivalentFallback(t *testing.T) {
	r := NewRegistry([]client.ClientType{client.ClientCodex})

	model, provider, err := r.Resolve("opus")
	require.NoError(t, err)
	require.Equal(t, "gpt-5.2-codex", model)
	require.Equal(t, client.ClientCodex, provider)
}

func TestResolve_EquivalentFallbackToClaude(t *testing.T) {
	r := NewRegistry([]client.ClientType{client.ClientClaude})

	model, provider, err := r.Resolve("gpt-5.1-codex-mini")
	require.NoError(t, err)
	require.Equal(t, "sonnet", model)
	require.Equal(t, client.ClientClaude, provider)
}

func TestResolve_AnyProviderFallback(t *testing.T) {
	// gemini model with only claude installed: no equivalence entry, so
	// the fallback provider is claude with its default model.
	r := NewRegistry([]client.ClientType{client.ClientClaude})

	model, provider, err := r.Resolve("gemini-2.5-pro")
	require.NoError(t, err)
	require.Equal(t, "opus", model)
	require.Equal(t, client.ClientClaude, provider)
}

func TestResolve_AnyProviderFallbackKeepsModelName(t *testing.T) {
	r := NewRegistry([]client.ClientType{client.ClientCodex})

	model, provider, err := r.Resolve("gemini-2.5-pro")
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-pro", model)
	require.Equal(t, client.ClientCodex, provider)
}

func TestResolve_NoProviders(t *testing.T) {
	r := NewRegistry(nil)

	_, _, err := r.Resolve("opus")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no available provider")
}

func TestEquivalentRoundTrips(t *testing.T) {
	require.Equal(t, "gpt-5.2-codex", Equivalent("opus"))
	require.Equal(t, "opus", Equivalent("gpt-5.2-codex"))
	require.Empty(t, Equivalent("gemini-2.5-pro"))
}

func TestIsClaudeModel(t *testing.T) {
	require.True(t, IsClaudeModel("opus"))
	require.False(t, IsClaudeModel("gpt-5.2"))
}
