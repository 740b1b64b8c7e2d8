package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ductor/ductor/internal/agent/models"
	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/pubsub"
)

// memoryPreviewChars caps the /memory reply.
const memoryPreviewChars = 3000

type commandHandler func(ctx context.Context, chatID int64, text string) Result

type commandEntry struct {
	name        string
	handler     commandHandler
	matchPrefix bool
}

// commandRegistry dispatches slash commands. Names ending in a space
// match as prefixes so "/model opus" routes to the /model handler.
type commandRegistry struct {
	entries []commandEntry
}

func newCommandRegistry(o *Orchestrator) *commandRegistry {
	r := &commandRegistry{}
	r.register("/new", o.cmdNew)
	r.register("/stop", o.cmdStop)
	r.register("/status", o.cmdStatus)
	r.register("/model", o.cmdModel)
	r.register("/model ", o.cmdModel)
	r.register("/memory", o.cmdMemory)
	r.register("/cron", o.cmdCron)
	r.register("/cron ", o.cmdCron)
	r.register("/diagnose", o.cmdDiagnose)
	r.register("/upgrade", o.cmdUpgrade)
	return r
}

func (r *commandRegistry) register(name string, h commandHandler) {
	r.entries = append(r.entries, commandEntry{
		name:        name,
		handler:     h,
		matchPrefix: strings.HasSuffix(name, " "),
	})
}

// dispatch routes cmd to a registered handler. The bool reports whether
// a handler consumed the message.
func (r *commandRegistry) dispatch(ctx context.Context, cmd string, chatID int64, text string) (Result, bool) {
	for _, e := range r.entries {
		matched := cmd == e.name
		if e.matchPrefix {
			matched = strings.HasPrefix(cmd, e.name)
		}
		if matched {
			log.Debug(log.CatOrch, "command matched", "cmd", strings.TrimSpace(e.name))
			return e.handler(ctx, chatID, text), true
		}
	}
	return Result{}, false
}

// names lists the registered commands for the unknown-command reply.
func (r *commandRegistry) names() string {
	seen := map[string]bool{}
	var out []string
	for _, e := range r.entries {
		name := strings.TrimSpace(e.name)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return strings.Join(out, " ")
}

func (o *Orchestrator) cmdNew(_ context.Context, chatID int64, _ string) Result {
	log.Info(log.CatOrch, "reset requested", "chat_id", chatID)
	o.procs.KillAll(chatID)
	if _, err := o.sessions.Reset(chatID, "", ""); err != nil {
		log.ErrorErr(log.CatOrch, "session reset failed", err, "chat_id", chatID)
		return Result{Text: internalErrorText}
	}
	return Result{Text: "New session started. Previous context cleared."}
}

func (o *Orchestrator) cmdStop(_ context.Context, chatID int64, _ string) Result {
	log.Info(log.CatOrch, "stop requested", "chat_id", chatID)
	killed := o.procs.KillAll(chatID)
	drained := 0
	if o.queue != nil {
		drained = o.queue.DrainPending(chatID)
	}
	if killed == 0 && drained == 0 {
		return Result{Text: "Nothing to stop."}
	}
	return Result{Text: fmt.Sprintf(
		"Stopped %d running process(es), cancelled %d queued message(s).", killed, drained)}
}

func (o *Orchestrator) cmdStatus(_ context.Context, chatID int64, _ string) Result {
	cfg := o.conf.Snapshot()
	model := o.effectiveModel(chatID, "", cfg)

	var b strings.Builder
	b.WriteString("Status\n")

	sess := o.sessions.Get(chatID)
	if sess != nil && sess.SessionID() != "" {
		fmt.Fprintf(&b, "Session: %s...\n", truncateStr(sess.SessionID(), 8))
		fmt.Fprintf(&b, "Messages: %d\n", sess.MessageCount())
		fmt.Fprintf(&b, "Tokens: %d\n", sess.TotalTokens())
		fmt.Fprintf(&b, "Cost: $%.4f\n", sess.TotalCostUSD())
		fmt.Fprintf(&b, "Age: %s\n", formatAge(sess.Age(o.now())))
		b.WriteString(modelLine(sess.Model, cfg.Model))
	} else {
		b.WriteString("No active session.\n")
		b.WriteString(modelLine(model, cfg.Model))
	}
	fmt.Fprintf(&b, "Provider: %s\n", cfg.Provider)
	fmt.Fprintf(&b, "Active processes: %d\n", o.procs.ActiveCount(chatID))

	if o.hist != nil {
		loc := config.ResolveLocation(cfg.Timezone)
		if stats, err := o.hist.StatsToday(loc); err == nil {
			fmt.Fprintf(&b, "Today: %d runs, %d errors, $%.4f\n",
				stats.Runs, stats.Errors, stats.CostUSD)
		}
	}
	return Result{Text: strings.TrimRight(b.String(), "\n")}
}

func modelLine(model, configured string) string {
	if model == configured {
		return fmt.Sprintf("Model: %s\n", model)
	}
	return fmt.Sprintf("Model: %s (configured: %s)\n", model, configured)
}

func (o *Orchestrator) cmdModel(ctx context.Context, chatID int64, text string) Result {
	parts := strings.Fields(text)
	if len(parts) < 2 {
		return Result{Text: o.modelOverview(ctx, chatID)}
	}

	name := strings.ToLower(parts[1])
	if name == "clear" {
		o.mu.Lock()
		delete(o.overrides, chatID)
		o.mu.Unlock()
		cfg := o.conf.Snapshot()
		return Result{Text: "Model override cleared. Using configured default: " + cfg.Model}
	}

	if !o.isKnownModel(ctx)(name) {
		return Result{Text: fmt.Sprintf(
			"Unknown model %q. Known: %s", name, strings.Join(o.knownModelList(ctx), ", "))}
	}

	cfg := o.conf.Snapshot()
	old := o.effectiveModel(chatID, "", cfg)
	if old == name {
		return Result{Text: fmt.Sprintf("Already running %s. No changes made.", name)}
	}

	o.mu.Lock()
	o.overrides[chatID] = name
	o.mu.Unlock()

	o.procs.KillAll(chatID)

	oldProvider := models.ProviderFor(old).String()
	newProvider := models.ProviderFor(name).String()
	if sess := o.sessions.Get(chatID); sess != nil {
		if err := o.sessions.SyncTarget(sess, newProvider, name); err != nil {
			log.ErrorErr(log.CatOrch, "model switch target sync failed", err, "chat_id", chatID)
		}
	}

	log.Info(log.CatOrch, "model switch", "model", name, "provider", newProvider)

	summary := fmt.Sprintf("Model switched.\nModel: %s -> %s", old, name)
	if oldProvider != newProvider {
		summary += fmt.Sprintf("\nProvider: %s -> %s", oldProvider, newProvider)
	}
	return Result{Text: summary}
}

// modelOverview is the argument-less /model reply: current target plus
// everything switchable.
func (o *Orchestrator) modelOverview(ctx context.Context, chatID int64) string {
	cfg := o.conf.Snapshot()

	var b strings.Builder
	b.WriteString("Model Selector\n")
	fmt.Fprintf(&b, "Current: %s\n", o.effectiveModel(chatID, "", cfg))
	o.mu.Lock()
	override := o.overrides[chatID]
	o.mu.Unlock()
	if override != "" {
		fmt.Fprintf(&b, "Configured default: %s\n", cfg.Model)
	}
	b.WriteString("\nClaude: " + strings.Join(models.ClaudeModels(), ", "))
	if o.catalog != nil {
		if cat, err := o.catalog.Load(ctx); err == nil && len(cat.Models) > 0 {
			var ids []string
			for _, m := range cat.Models {
				ids = append(ids, m.ID)
			}
			b.WriteString("\nCodex: " + strings.Join(ids, ", "))
		}
	}
	b.WriteString("\n\nUse /model <name> to switch, /model clear to reset.")
	return b.String()
}

func (o *Orchestrator) knownModelList(ctx context.Context) []string {
	out := models.ClaudeModels()
	if o.catalog != nil {
		if cat, err := o.catalog.Load(ctx); err == nil {
			for _, m := range cat.Models {
				out = append(out, m.ID)
			}
		}
	}
	return out
}

func (o *Orchestrator) cmdMemory(_ context.Context, chatID int64, _ string) Result {
	cfg := o.conf.Snapshot()
	content := o.readMainMemory(chatID, cfg)
	if content == "" {
		return Result{Text: "Main Memory\n\nEmpty. The agent will build memory as you interact.\n" +
			`Tip: Ask your agent to "remember" something to get started.`}
	}
	if len(content) > memoryPreviewChars {
		content = content[:memoryPreviewChars] + "\n[...truncated]"
	}
	return Result{Text: "Main Memory\n\n" + content +
		"\n\nTip: The agent reads and updates this automatically."}
}

func (o *Orchestrator) cmdCron(_ context.Context, chatID int64, text string) Result {
	if o.cronMgr == nil {
		return Result{Text: "Cron is not available."}
	}

	parts := strings.Fields(text)
	if len(parts) >= 3 && strings.EqualFold(parts[1], "run") {
		return o.cronRunByName(chatID, parts[2])
	}

	jobs := o.cronMgr.Jobs()
	if len(jobs) == 0 {
		return Result{Text: "No cron jobs configured."}
	}

	cfg := o.conf.Snapshot()
	loc := config.ResolveLocation(cfg.Timezone)
	now := o.now()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	var b strings.Builder
	b.WriteString("Cron Jobs\n")
	for _, job := range jobs {
		state := "enabled"
		if !job.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "\n%s [%s]\n", job.Name, state)
		fmt.Fprintf(&b, "  schedule: %s\n", job.Schedule)
		if next := job.Next(now, loc); !next.IsZero() {
			fmt.Fprintf(&b, "  next: %s\n", next.Format("2006-01-02 15:04"))
		}
		if job.LastRunStatus != "" {
			fmt.Fprintf(&b, "  last: %s\n", job.LastRunStatus)
		}
	}
	b.WriteString("\nUse /cron run <name> to fire a job now.")
	return Result{Text: b.String()}
}

// cronRunByName fires one job in the background and reports the outcome
// on the result bus.
func (o *Orchestrator) cronRunByName(chatID int64, name string) Result {
	if o.cronRunner == nil {
		return Result{Text: "Cron is not available."}
	}
	job, ok := o.cronMgr.Get(name)
	if !ok {
		return Result{Text: fmt.Sprintf("No cron job named %q.", name)}
	}

	go func() {
		res := o.cronRunner.Run(context.Background(), job)
		status := res.Status
		if res.Skipped && status == "" {
			status = "skipped:quiet_hours"
		}
		text := fmt.Sprintf("Cron job %s finished: %s", res.Job, status)
		if res.Output != "" {
			text += "\n\n" + res.Output
		}
		if o.bus != nil {
			o.bus.Publish(pubsub.CreatedEvent, Reply{ChatID: chatID, Source: "cron", Text: text})
		}
	}()

	return Result{Text: fmt.Sprintf("Running cron job %s...", name)}
}

func (o *Orchestrator) cmdDiagnose(ctx context.Context, chatID int64, _ string) Result {
	cfg := o.conf.Snapshot()

	snapshot := map[string]any{
		"config": map[string]any{
			"provider":         cfg.Provider,
			"model":            cfg.Model,
			"timezone":         cfg.Timezone,
			"log_level":        cfg.LogLevel,
			"cli_timeout_secs": cfg.CLITimeoutSecs,
			"workspace":        cfg.WorkspaceFor(chatID),
			"heartbeat":        cfg.Heartbeat.Enabled,
			"webhook":          cfg.Webhook.Enabled,
			"cleanup":          cfg.Cleanup.Enabled,
		},
		"processes": map[string]any{
			"active": o.procs.ActiveCount(chatID),
			"labels": o.procs.ActiveLabels(chatID),
		},
	}

	if sess := o.sessions.Get(chatID); sess != nil {
		snapshot["session"] = map[string]any{
			"id":       truncateStr(sess.SessionID(), 8),
			"provider": sess.Provider,
			"model":    sess.Model,
			"messages": sess.MessageCount(),
			"age":      formatAge(sess.Age(o.now())),
		}
	}

	if o.queue != nil {
		snapshot["queue"] = map[string]any{
			"busy":    o.queue.IsBusy(chatID),
			"pending": len(o.queue.PendingEntries(chatID)),
		}
	}

	if o.cronMgr != nil {
		cronInfo := map[string]any{"jobs": len(o.cronMgr.Jobs())}
		if o.cronRunner != nil {
			cronInfo["waiting"] = o.cronRunner.Dependencies().Waiting()
		}
		snapshot["cron"] = cronInfo
	}

	if o.catalog != nil {
		if cat, err := o.catalog.Load(ctx); err == nil {
			snapshot["codex_models"] = map[string]any{
				"count":        len(cat.Models),
				"last_updated": cat.LastUpdated.Format(time.RFC3339),
			}
		}
	}

	if o.hist != nil {
		loc := config.ResolveLocation(cfg.Timezone)
		if stats, err := o.hist.StatsToday(loc); err == nil {
			snapshot["history_today"] = map[string]any{
				"runs":     stats.Runs,
				"errors":   stats.Errors,
				"cost_usd": stats.CostUSD,
			}
		}
	}

	if o.diag != nil {
		for k, v := range o.diag() {
			snapshot[k] = v
		}
	}

	out, err := yaml.Marshal(snapshot)
	if err != nil {
		log.ErrorErr(log.CatOrch, "diagnose snapshot failed", err)
		return Result{Text: internalErrorText}
	}
	return Result{Text: "System Diagnostics\n\n" + string(out)}
}

func (o *Orchestrator) cmdUpgrade(_ context.Context, _ int64, _ string) Result {
	log.Info(log.CatOrch, "config upgrade requested")
	added, err := o.conf.Reload()
	if err != nil {
		log.ErrorErr(log.CatOrch, "config upgrade failed", err)
		return Result{Text: "Config upgrade failed: " + err.Error()}
	}
	if added == 0 {
		return Result{Text: "Config already complete. No missing keys."}
	}
	return Result{Text: fmt.Sprintf("Config upgraded: %d missing key(s) restored to defaults.", added)}
}

func formatAge(age time.Duration) string {
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 48*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours())/24)
	}
}
