package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	clientType ClientType
}

func (c *fakeClient) Spawn(ctx context.Context, config Config) (HeadlessProcess, error) {
	return nil, nil
}

func (c *fakeClient) Type() ClientType { return c.clientType }

func (c *fakeClient) IsAvailable() bool { return true }

func TestParseClientType(t *testing.T) {
	for _, valid := range []string{"claude", "codex", "gemini"} {
		got, err := ParseClientType(valid)
		require.NoError(t, err)
		require.Equal(t, valid, got.String())
	}

	_, err := ParseClientType("copilot")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown provider")
}

func TestRegisterClient_AndNew(t *testing.T) {
	fake := ClientType("fake-for-test")
	RegisterClient(fake, func() HeadlessClient {
		return &fakeClient{clientType: fake}
	})
	t.Cleanup(func() {
		registryMu.Lock()
		delete(clientRegistry, fake)
		registryMu.Unlock()
	})

	c, err := NewClient(fake)
	require.NoError(t, err)
	require.Equal(t, fake, c.Type())
	require.True(t, c.IsAvailable())
}

func TestNewClient_Unregistered(t *testing.T) {
	_, err := NewClient(ClientType("nope"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no client registered")
}

func TestRegisteredClients_Sorted(t *testing.T) {
	a, b := ClientType("zz-test"), ClientType("aa-test")
	RegisterClient(a, func() HeadlessClient { return &fakeClient{clientType: a} })
	RegisterClient(b, func() HeadlessClient { return &fakeClient{clientType: b} })
	t.Cleanup(func() {
		registryMu.Lock()
		delete(clientRegistry, a)
		delete(clientRegistry, b)
		registryMu.Unlock()
	})

	types := RegisteredClients()
	for i := 1; i < len(types); i++ {
		require.LessOrEqual(t, types[i-1], types[i])
	}
}
