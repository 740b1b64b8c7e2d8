// Package client provides common types and utilities for headless AI
// provider CLI management.
//
// This package defines provider-agnostic pieces for spawning and supervising
// coding-agent CLIs. The orchestration layer works with claude, codex, and
// gemini through a unified interface.
//
// Key pieces:
//   - HeadlessClient: factory for spawning headless processes
//   - HeadlessProcess: unified process lifecycle management
//   - OutputEvent: normalized event stream parsed from CLI stdout
//   - Config: provider-agnostic spawn configuration
//
// Example usage:
//
//	c, err := client.NewClient(client.ClientClaude)
//	if err != nil {
//	    return err
//	}
//
//	proc, err := c.Spawn(ctx, client.Config{
//	    WorkDir: "/path/to/work",
//	    Prompt:  "Summarize the open items.",
//	})
//	if err != nil {
//	    return err
//	}
//
//	for event := range proc.Events() {
//	    if event.IsText() {
//	        fmt.Print(event.Text)
//	    }
//	}
package client
