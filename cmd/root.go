// Package cmd wires the ductor command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	version  = "dev"
	homeFlag string
)

var rootCmd = &cobra.Command{
	Use:   "ductor",
	Short: "Coding-agent orchestrator for Claude, Codex, and Gemini CLIs",
	Long: `ductor supervises coding-agent CLIs (Claude Code, Codex, Gemini) as
subprocesses on behalf of long-lived chats. It keeps per-chat per-provider
sessions, schedules cron jobs, accepts webhooks, and runs heartbeat
check-ins.

  ductor serve   run the headless daemon (observers + webhook server)
  ductor chat    open the local terminal chat surface`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "",
		"state directory (default: $DUCTOR_HOME or ~/.ductor)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
