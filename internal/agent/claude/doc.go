// Package claude provides a Go interface to headless Claude Code runs.
//
// The Claude CLI emits newline-delimited JSON with envelope types system,
// assistant, and result. Assistant envelopes carry content blocks (text,
// thinking, tool_use) which fan out into one event each; the terminal
// result envelope carries the final text, cost, and usage.
//
// Registration happens in init; importing this package for side effects
// makes the provider available through client.NewClient.
package claude
