package client

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ClientType identifies a supported provider CLI.
type ClientType string

const (
	ClientClaude ClientType = "claude"
	ClientCodex  ClientType = "codex"
	ClientGemini ClientType = "gemini"
)

// String returns the provider name.
func (t ClientType) String() string {
	return string(t)
}

// ParseClientType validates a provider name from config or user input.
func ParseClientType(s string) (ClientType, error) {
	switch ClientType(s) {
	case ClientClaude, ClientCodex, ClientGemini:
		return ClientType(s), nil
	default:
		return "", fmt.Errorf("unknown provider: %q", s)
	}
}

// HeadlessClient spawns headless processes for one provider.
type HeadlessClient interface {
	// Spawn starts a CLI run with the given config.
	Spawn(ctx context.Context, config Config) (HeadlessProcess, error)

	// Type identifies the provider.
	Type() ClientType

	// IsAvailable reports whether the provider CLI binary is installed.
	IsAvailable() bool
}

// ClientFactory constructs a provider client.
type ClientFactory func() HeadlessClient

var (
	registryMu     sync.RWMutex
	clientRegistry = make(map[ClientType]ClientFactory)
)

// RegisterClient installs a provider factory. Called from provider
// package init functions; providers are activated by blank imports.
func RegisterClient(t ClientType, factory ClientFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	clientRegistry[t] = factory
}

// NewClient constructs the client for a provider type.
func NewClient(t ClientType) (HeadlessClient, error) {
	registryMu.RLock()
	factory, ok := clientRegistry[t]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", t)
	}
	return factory(), nil
}

// RegisteredClients lists providers with registered factories, sorted.
func RegisteredClients() []ClientType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]ClientType, 0, len(clientRegistry))
	for t := range clientRegistry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
