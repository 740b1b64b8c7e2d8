package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/ductor/ductor/internal/cleanup"
	"github.com/ductor/ductor/internal/cron"
	"github.com/ductor/ductor/internal/heartbeat"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/orchestrator"
	"github.com/ductor/ductor/internal/paths"
	"github.com/ductor/ductor/internal/pubsub"
	"github.com/ductor/ductor/internal/watcher"
	"github.com/ductor/ductor/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the headless daemon",
	Long: `Run ductor as a long-lived daemon: cron scheduler, heartbeat
check-ins, retention cleanup, and the inbound webhook server. Replies
and observer results are written to the log; attach a chat surface
with 'ductor chat'.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	home := paths.Resolve(homeFlag)
	if err := home.EnsureLayout(); err != nil {
		return fmt.Errorf("prepare home %s: %w", home.Root, err)
	}

	closeLog, err := log.InitMirrored(home.LogFile(), os.Stderr)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()

	eng, err := buildEngine(home)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Heartbeat: periodic background turns per configured chat.
	hb := heartbeat.NewObserver(eng.conf, eng.chatIDs, eng.orch.HeartbeatFlow)
	hb.SetBusyCheck(func(chatID int64) bool {
		return eng.queue.IsBusy(chatID) || eng.procs.HasActive(chatID)
	})
	hb.SetStaleReaper(func() int {
		return eng.procs.KillStale(eng.staleProcessAge())
	})
	hb.SetResultHandler(func(chatID int64, alert string) {
		log.Info(log.CatHeartbeat, "heartbeat alert", "chat_id", chatID, "chars", len(alert))
	})
	hb.Start(ctx)

	// Cron: scheduled one-shot agent runs in task folders.
	cronObs := cron.NewObserver(eng.cronMgr, eng.cronRun, eng.conf, func(res cron.Result) {
		if res.Skipped {
			return
		}
		eng.bus.Publish(pubsub.CreatedEvent, orchestrator.Reply{
			ChatID: eng.defaultChatID(),
			Source: "cron",
			Text:   fmt.Sprintf("Cron job %s finished: %s\n\n%s", res.Job, res.Status, res.Output),
		})
	})
	cronObs.Start(ctx)

	// Cleanup: retention sweeps over downloads/ and outputs/.
	cleanObs := cleanup.NewObserver(eng.conf, home)
	cleanObs.Start(ctx)

	// Webhooks: authenticated inbound HTTP triggering cron jobs or wake
	// turns. Wake turns queue behind the chat's in-flight work.
	hooks := webhook.NewManager(home.WebhooksFile())
	webObs := webhook.NewObserver(eng.conf, hooks, eng.cronMgr, eng.cronRun)
	webObs.SetWakeHandler(func(ctx context.Context, chatID int64, prompt string) (string, error) {
		done := make(chan orchestrator.Result, 1)
		eng.queue.RunExclusive(chatID, func(ctx context.Context) {
			done <- eng.orch.HandleMessage(ctx, chatID, prompt)
		})
		select {
		case res := <-done:
			return res.Text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	webObs.SetResultHandler(func(res webhook.Result) {
		eng.bus.Publish(pubsub.CreatedEvent, orchestrator.Reply{
			ChatID: eng.defaultChatID(),
			Source: "webhook",
			Text:   fmt.Sprintf("Webhook %s (%s): %s\n\n%s", res.HookName, res.Kind, res.Status, res.Text),
		})
	})
	if err := webObs.Start(ctx); err != nil {
		return fmt.Errorf("start webhook observer: %w", err)
	}

	// Hot-reload config.json; cron schedules follow the new config.
	confWatch := startConfigWatcher(eng, cronObs)

	eng.orch.SetDiagnostics(func() map[string]any {
		cfg := eng.conf.Snapshot()
		return map[string]any{
			"observers": map[string]any{
				"heartbeat": cfg.Heartbeat.Enabled,
				"cleanup":   cfg.Cleanup.Enabled,
				"webhook":   cfg.Webhook.Enabled,
				"cron":      true,
			},
		}
	})

	log.Info(log.CatConfig, "ductor daemon started", "home", home.Root, "version", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info(log.CatConfig, "shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	cancel()
	hb.Stop()
	cronObs.Stop()
	cleanObs.Stop()
	webObs.Stop()
	if confWatch != nil {
		if err := confWatch.Stop(); err != nil {
			log.Warn(log.CatWatcher, "config watcher stop failed", "error", err)
		}
	}
	eng.close(shutdownCtx)

	log.Info(log.CatConfig, "ductor daemon stopped")
	return nil
}

// startConfigWatcher re-merges config.json when it changes on disk and
// logs a compact diff of what moved. Watch failures degrade to a
// static config.
func startConfigWatcher(eng *engine, cronObs *cron.Observer) *watcher.Watcher {
	w, err := watcher.New(watcher.DefaultConfig(eng.home.ConfigFile()))
	if err != nil {
		log.Warn(log.CatWatcher, "config watcher unavailable", "error", err)
		return nil
	}
	events, err := w.Start()
	if err != nil {
		log.Warn(log.CatWatcher, "config watcher start failed", "error", err)
		return nil
	}

	go func() {
		for range events {
			before, _ := json.Marshal(eng.conf.Snapshot())
			added, err := eng.conf.Reload()
			if err != nil {
				log.ErrorErr(log.CatConfig, "config reload failed", err)
				continue
			}
			after, _ := json.Marshal(eng.conf.Snapshot())
			applyLogLevel(eng.conf.Snapshot().LogLevel)
			cronObs.Reschedule()
			log.Info(log.CatConfig, "config reloaded",
				"added_keys", added, "changes", diffSummary(string(before), string(after)))
		}
	}()
	return w
}

// diffSummary condenses a reload into "-old +new" fragments, capped so
// the log line stays readable.
func diffSummary(before, after string) string {
	if before == after {
		return "none"
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var parts []string
	for _, d := range diffs {
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}
		if len(text) > 48 {
			text = text[:48] + "..."
		}
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			parts = append(parts, "-"+text)
		case diffmatchpatch.DiffInsert:
			parts = append(parts, "+"+text)
		}
		if len(parts) >= 8 {
			parts = append(parts, "...")
			break
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}
