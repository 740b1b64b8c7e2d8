package codex

import (
	"context"

	"github.com/ductor/ductor/internal/agent/client"
)

func init() {
	client.RegisterClient(client.ClientCodex, func() client.HeadlessClient {
		return NewClient()
	})
}

// Client implements client.HeadlessClient for the OpenAI Codex CLI.
type Client struct{}

// NewClient creates a Codex client.
func NewClient() *Client {
	return &Client{}
}

// Type returns the provider identifier.
func (c *Client) Type() client.ClientType {
	return client.ClientCodex
}

// IsAvailable reports whether the codex binary can be located.
func (c *Client) IsAvailable() bool {
	_, err := findExecutable()
	return err == nil
}

// Spawn starts a headless Codex run.
func (c *Client) Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	return Spawn(ctx, cfg)
}

var _ client.HeadlessClient = (*Client)(nil)
