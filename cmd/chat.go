package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ductor/ductor/internal/cron"
	"github.com/ductor/ductor/internal/heartbeat"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/orchestrator"
	"github.com/ductor/ductor/internal/paths"
	"github.com/ductor/ductor/internal/pubsub"
	uichat "github.com/ductor/ductor/internal/ui/chat"
)

var chatIDFlag int64

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the local terminal chat surface",
	Long: `Open an interactive chat with the agent in the terminal. The chat
binds to one chat ID (its workspace and sessions); cron and heartbeat
observers run in-process so their results show up in the transcript.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Int64Var(&chatIDFlag, "chat", 0,
		"chat ID to bind to (default: first configured chat, else 1)")
}

func runChat(_ *cobra.Command, _ []string) error {
	home := paths.Resolve(homeFlag)
	if err := home.EnsureLayout(); err != nil {
		return fmt.Errorf("prepare home %s: %w", home.Root, err)
	}

	// The TUI owns the terminal; log to file only.
	closeLog, err := log.Init(home.LogFile())
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()

	eng, err := buildEngine(home)
	if err != nil {
		return err
	}

	chatID := chatIDFlag
	if chatID == 0 {
		chatID = eng.defaultChatID()
	}
	if chatID == 0 {
		chatID = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background observers so scheduled results reach the transcript.
	hb := heartbeat.NewObserver(eng.conf, eng.chatIDs, eng.orch.HeartbeatFlow)
	hb.SetBusyCheck(func(id int64) bool {
		return eng.queue.IsBusy(id) || eng.procs.HasActive(id)
	})
	hb.SetStaleReaper(func() int {
		return eng.procs.KillStale(eng.staleProcessAge())
	})
	hb.Start(ctx)

	cronObs := cron.NewObserver(eng.cronMgr, eng.cronRun, eng.conf, func(res cron.Result) {
		if res.Skipped {
			return
		}
		eng.bus.Publish(pubsub.CreatedEvent, orchestrator.Reply{
			ChatID: chatID,
			Source: "cron",
			Text:   fmt.Sprintf("Cron job %s finished: %s\n\n%s", res.Job, res.Status, res.Output),
		})
	})
	cronObs.Start(ctx)

	replies := eng.bus.Subscribe(ctx)
	model := uichat.New(eng.orch, chatID, replies)

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, runErr := p.Run()

	cancel()
	hb.Stop()
	cronObs.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	eng.close(shutdownCtx)

	if runErr != nil {
		return fmt.Errorf("chat surface failed: %w", runErr)
	}
	return nil
}
