// Package gemini implements the client.HeadlessClient interface for
// the Google Gemini CLI.
//
// Gemini differs from the other providers in three ways: the prompt is
// delivered on stdin rather than as an argument, the system prompt
// travels through a GEMINI_SYSTEM_MD file referenced by environment
// variable, and the workspace must be pre-trusted in
// ~/.gemini/trustedFolders.json or the CLI refuses to run headless.
package gemini
