package claude

import (
	"context"

	"github.com/ductor/ductor/internal/agent/client"
)

func init() {
	client.RegisterClient(client.ClientClaude, func() client.HeadlessClient {
		return NewClient()
	})
}

// Client implements client.HeadlessClient for the Claude Code CLI.
type Client struct{}

// NewClient creates a Claude client.
func NewClient() *Client {
	return &Client{}
}

// Type returns the provider identifier.
func (c *Client) Type() client.ClientType {
	return client.ClientClaude
}

// IsAvailable reports whether the claude binary can be located.
func (c *Client) IsAvailable() bool {
	_, err := findExecutable()
	return err == nil
}

// Spawn starts a headless Claude run.
func (c *Client) Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	return Spawn(ctx, cfg)
}

var _ client.HeadlessClient = (*Client)(nil)
