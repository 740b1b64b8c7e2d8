package gemini

import (
	"context"

	"github.com/ductor/ductor/internal/agent/client"
)

func init() {
	client.RegisterClient(client.ClientGemini, func() client.HeadlessClient {
		return NewClient()
	})
}

// Client implements client.HeadlessClient for the Google Gemini CLI.
type Client struct{}

// NewClient creates a Gemini client.
func NewClient() *Client {
	return &Client{}
}

// Type returns the provider identifier.
func (c *Client) Type() client.ClientType {
	return client.ClientGemini
}

// IsAvailable reports whether the gemini binary can be located.
func (c *Client) IsAvailable() bool {
	_, err := findExecutable()
	return err == nil
}

// Spawn starts a headless Gemini run.
func (c *Client) Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	return Spawn(ctx, cfg)
}

var _ client.HeadlessClient = (*Client)(nil)
