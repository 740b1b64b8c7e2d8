// Package orchestrator routes chat messages through slash commands,
// inline directives, and the conversation flow against the agent
// service. It owns per-chat model overrides and the retry ladder for
// broken session resumes and killed subprocesses.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rivo/uniseg"

	"github.com/ductor/ductor/internal/agent/models"
	"github.com/ductor/ductor/internal/agent/params"
	"github.com/ductor/ductor/internal/agent/registry"
	"github.com/ductor/ductor/internal/agent/service"
	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/cron"
	"github.com/ductor/ductor/internal/history"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/middleware"
	"github.com/ductor/ductor/internal/paths"
	"github.com/ductor/ductor/internal/pubsub"
	"github.com/ductor/ductor/internal/session"
)

// maxInputChars caps inbound message length before it reaches the agent.
const maxInputChars = 16000

const internalErrorText = "An internal error occurred. Please try again."

const sigkillRetryText = "Execution was interrupted. Please send the same request again."

// mainMemoryFile is the workspace file injected as append-system-prompt
// on fresh sessions.
const mainMemoryFile = "MAINMEMORY.md"

// Result is the structured outcome of one handled message.
type Result struct {
	Text string

	// StreamFallback marks a reply produced by the non-streaming retry
	// after a broken stream.
	StreamFallback bool
}

// Reply is the payload published on the result bus for surfaces.
type Reply struct {
	ChatID int64
	Source string // "message", "heartbeat", "cron"
	Text   string
}

// Executor runs agent calls. Satisfied by *service.Service.
type Executor interface {
	Execute(ctx context.Context, req service.AgentRequest) (service.AgentResponse, error)
	ExecuteStreaming(ctx context.Context, req service.AgentRequest, cb service.StreamCallbacks) (service.AgentResponse, error)
}

// Orchestrator routes messages through command dispatch and the
// conversation flow.
type Orchestrator struct {
	conf     *config.Store
	home     paths.Home
	sessions *session.Store
	exec     Executor
	procs    *registry.Registry
	modelReg *models.Registry
	catalog  *params.CatalogStore

	cronMgr    *cron.Manager
	cronRunner *cron.Runner
	hist       *history.Store
	queue      *middleware.Dispatcher

	hooks    *HookRegistry
	commands *commandRegistry
	bus      *pubsub.Broker[Reply]
	diag     func() map[string]any

	mu        sync.Mutex
	overrides map[int64]string // per-chat model override set via /model

	now func() time.Time
}

// New builds an orchestrator over the shared stores and the agent
// executor.
func New(conf *config.Store, sessions *session.Store, exec Executor, procs *registry.Registry, modelReg *models.Registry) *Orchestrator {
	o := &Orchestrator{
		conf:      conf,
		home:      conf.Home(),
		sessions:  sessions,
		exec:      exec,
		procs:     procs,
		modelReg:  modelReg,
		hooks:     NewHookRegistry(),
		overrides: make(map[int64]string),
		now:       time.Now,
	}
	o.commands = newCommandRegistry(o)
	return o
}

// SetCatalog installs the codex model catalog used for directive and
// /model validation.
func (o *Orchestrator) SetCatalog(c *params.CatalogStore) { o.catalog = c }

// SetCron wires the cron manager and runner backing /cron.
func (o *Orchestrator) SetCron(m *cron.Manager, r *cron.Runner) {
	o.cronMgr = m
	o.cronRunner = r
}

// SetHistory wires the run-history store backing /status aggregates.
func (o *Orchestrator) SetHistory(h *history.Store) { o.hist = h }

// SetQueue wires the message dispatcher so /stop can drain pending
// entries and /diagnose can report queue depths.
func (o *Orchestrator) SetQueue(d *middleware.Dispatcher) { o.queue = d }

// SetResultBus installs the bus replies are published on.
func (o *Orchestrator) SetResultBus(b *pubsub.Broker[Reply]) { o.bus = b }

// SetDiagnostics installs an extra diagnostics provider merged into the
// /diagnose snapshot (observer liveness, surface state).
func (o *Orchestrator) SetDiagnostics(fn func() map[string]any) { o.diag = fn }

// Hooks exposes the hook registry for additional registrations.
func (o *Orchestrator) Hooks() *HookRegistry { return o.hooks }

// HandleMessage routes one message and returns the reply. Internal
// failures never escape: they are logged and turned into a generic
// error reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, chatID int64, text string) Result {
	return o.handle(ctx, chatID, text, service.StreamCallbacks{})
}

// HandleMessageStreaming is HandleMessage with progress callbacks.
func (o *Orchestrator) HandleMessageStreaming(ctx context.Context, chatID int64, text string, cb service.StreamCallbacks) Result {
	return o.handle(ctx, chatID, text, cb)
}

func (o *Orchestrator) handle(ctx context.Context, chatID int64, text string, cb service.StreamCallbacks) Result {
	o.procs.ClearAbort(chatID)

	text = sanitizeInput(text)
	cmd := strings.ToLower(strings.TrimSpace(text))
	log.Info(log.CatOrch, "message received", "chat_id", chatID, "text", truncateStr(cmd, 80))

	res, err := o.route(ctx, chatID, text, cmd, cb)
	if err != nil {
		log.ErrorErr(log.CatOrch, "message handling failed", err, "chat_id", chatID)
		res = Result{Text: internalErrorText}
	}
	o.publish(chatID, "message", res.Text)
	return res
}

func (o *Orchestrator) route(ctx context.Context, chatID int64, text, cmd string, cb service.StreamCallbacks) (Result, error) {
	if res, ok := o.commands.dispatch(ctx, cmd, chatID, text); ok {
		return res, nil
	}
	if strings.HasPrefix(cmd, "/") {
		return Result{Text: "Unknown command. Available: " + o.commands.names()}, nil
	}

	d := ParseDirectives(text, o.isKnownModel(ctx))
	if d.IsDirectiveOnly() && d.HasModel() {
		return Result{Text: fmt.Sprintf(
			"Next message will use: %s\n(Send a message with @%s <text> to use it.)",
			d.Model, d.Model)}, nil
	}

	prompt := text
	if d.Cleaned != "" {
		prompt = d.Cleaned
	}
	return o.converse(ctx, chatID, prompt, d.Model, cb)
}

// converse is the conversation flow: session resolve, hooks, streaming
// execution, the resume and SIGKILL retries, and the session update.
func (o *Orchestrator) converse(ctx context.Context, chatID int64, text, modelOverride string, cb service.StreamCallbacks) (Result, error) {
	req, sess, err := o.prepare(chatID, text, modelOverride)
	if err != nil {
		return Result{}, err
	}

	resp, err := o.exec.ExecuteStreaming(ctx, req, cb)
	if err != nil {
		return Result{}, err
	}
	if o.procs.WasAborted(chatID) {
		log.Info(log.CatOrch, "flow aborted by user", "chat_id", chatID)
		return Result{}, nil
	}

	if resp.IsError && req.ResumeSessionID != "" {
		// Resume failed; reset the provider slot and retry once fresh.
		log.Warn(log.CatOrch, "resume failed, retrying fresh",
			"session_id", truncateStr(req.ResumeSessionID, 8))
		if _, err := o.sessions.ResetProvider(chatID, sess.Provider, sess.Model); err != nil {
			return Result{}, err
		}
		req, sess, err = o.prepare(chatID, text, modelOverride)
		if err != nil {
			return Result{}, err
		}
		resp, err = o.exec.ExecuteStreaming(ctx, req, cb)
		if err != nil {
			return Result{}, err
		}
	}

	if sigKilled(resp) {
		log.Warn(log.CatOrch, "subprocess killed, retrying once", "chat_id", chatID)
		o.procs.KillAll(chatID)
		if _, err := o.sessions.ResetProvider(chatID, sess.Provider, sess.Model); err != nil {
			return Result{}, err
		}
		if cb.OnStatus != nil {
			cb.OnStatus("recovering")
		}
		req, sess, err = o.prepare(chatID, text, modelOverride)
		if err != nil {
			return Result{}, err
		}
		resp, err = o.exec.ExecuteStreaming(ctx, req, cb)
		if err != nil {
			return Result{}, err
		}
		if sigKilled(resp) {
			log.Warn(log.CatOrch, "subprocess killed again, asking user to resend", "chat_id", chatID)
			return Result{Text: sigkillRetryText}, nil
		}
	}

	if resp.IsError {
		if o.procs.WasAborted(chatID) {
			log.Info(log.CatOrch, "flow aborted by user after retry", "chat_id", chatID)
			return Result{}, nil
		}
		if resp.TimedOut {
			return Result{Text: "Agent timed out. Please try again."}, nil
		}
		o.procs.KillAll(chatID)
		if _, err := o.sessions.ResetProvider(chatID, sess.Provider, sess.Model); err != nil {
			return Result{}, err
		}
		log.Warn(log.CatOrch, "session error reset", "model", sess.Model)
		return Result{Text: fmt.Sprintf("[%s] Session error. New session started.", sess.Model)}, nil
	}

	o.applySessionID(sess, resp)
	if err := o.sessions.Update(sess, resp.Usage.TotalCostUSD, resp.Usage.InputTokens+resp.Usage.OutputTokens); err != nil {
		log.ErrorErr(log.CatOrch, "session update failed", err, "chat_id", chatID)
	}

	out := resp.Text + o.sessionAgeNote(sess)
	log.Info(log.CatOrch, "flow completed", "chat_id", chatID, "chars", len(resp.Text))
	return Result{Text: out, StreamFallback: resp.StreamFallback}, nil
}

// prepare resolves the session and builds the agent request: effective
// model, resume id, fresh-session memory injection, and hook suffixes.
func (o *Orchestrator) prepare(chatID int64, text, modelOverride string) (service.AgentRequest, *session.Session, error) {
	cfg := o.conf.Snapshot()

	model := o.effectiveModel(chatID, modelOverride, cfg)
	resolvedModel, provider, err := o.modelReg.Resolve(model)
	if err != nil {
		return service.AgentRequest{}, nil, err
	}

	sess, isNew, err := o.sessions.Resolve(chatID, provider.String(), resolvedModel)
	if err != nil {
		return service.AgentRequest{}, nil, err
	}
	log.Info(log.CatOrch, "session resolved",
		"session_id", truncateStr(sess.SessionID(), 8), "new", isNew, "msgs", sess.MessageCount())

	appendPrompt := ""
	if isNew {
		appendPrompt = o.readMainMemory(chatID, cfg)
	}

	prompt := o.hooks.Apply(text, HookContext{
		ChatID:       chatID,
		MessageCount: sess.MessageCount(),
		IsNewSession: isNew,
		Provider:     provider.String(),
		Model:        resolvedModel,
	})

	resume := ""
	if !isNew {
		resume = sess.SessionID()
	}

	return service.AgentRequest{
		ChatID:             chatID,
		Prompt:             prompt,
		AppendSystemPrompt: appendPrompt,
		ModelOverride:      resolvedModel,
		ProviderOverride:   provider,
		ResumeSessionID:    resume,
		WorkDir:            cfg.WorkspaceFor(chatID),
		Timeout:            cfg.CLITimeout(),
		Label:              "message",
	}, sess, nil
}

// HeartbeatFlow runs one heartbeat turn inside the chat's existing
// session. It never creates a session and never bumps the message
// counter; the return is the alert text, empty when there is nothing to
// report.
func (o *Orchestrator) HeartbeatFlow(ctx context.Context, chatID int64) (string, error) {
	cfg := o.conf.Snapshot()

	sess := o.sessions.Get(chatID)
	if sess == nil || sess.SessionID() == "" {
		log.Debug(log.CatOrch, "heartbeat skipped", "reason", "no_session", "chat_id", chatID)
		return "", nil
	}

	model := o.effectiveModel(chatID, "", cfg)
	resolvedModel, provider, err := o.modelReg.Resolve(model)
	if err != nil {
		return "", err
	}
	if sess.Provider != provider.String() {
		log.Debug(log.CatOrch, "heartbeat skipped", "reason", "provider_mismatch",
			"session_provider", sess.Provider, "current", provider.String())
		return "", nil
	}

	if idle := o.now().Sub(sess.LastActive); idle < cfg.Heartbeat.Cooldown() {
		log.Debug(log.CatOrch, "heartbeat skipped", "reason", "cooldown",
			"idle_secs", int(idle.Seconds()))
		return "", nil
	}

	resp, err := o.exec.Execute(ctx, service.AgentRequest{
		ChatID:           chatID,
		Prompt:           cfg.Heartbeat.Prompt,
		ModelOverride:    resolvedModel,
		ProviderOverride: provider,
		ResumeSessionID:  sess.SessionID(),
		WorkDir:          cfg.WorkspaceFor(chatID),
		Timeout:          cfg.CLITimeout(),
		Label:            "heartbeat",
	})
	if err != nil {
		return "", err
	}
	if resp.IsError {
		log.Warn(log.CatOrch, "heartbeat agent error", "text", truncateStr(resp.Text, 200))
		return "", nil
	}

	alert := stripAckToken(resp.Text, cfg.Heartbeat.AckToken)
	if alert == "" {
		log.Info(log.CatOrch, "heartbeat ok, suppressed")
		return "", nil
	}

	o.publish(chatID, "heartbeat", alert)
	log.Info(log.CatOrch, "heartbeat alert", "chars", len(alert))
	return alert, nil
}

// Abort kills every active process for the chat.
func (o *Orchestrator) Abort(chatID int64) int {
	return o.procs.KillAll(chatID)
}

// IsBusy reports whether the chat has active processes.
func (o *Orchestrator) IsBusy(chatID int64) bool {
	return o.procs.HasActive(chatID)
}

// effectiveModel applies the override ladder: per-message directive,
// per-chat /model override, configured default.
func (o *Orchestrator) effectiveModel(chatID int64, directive string, cfg *config.Config) string {
	if directive != "" {
		return directive
	}
	o.mu.Lock()
	override := o.overrides[chatID]
	o.mu.Unlock()
	if override != "" {
		return override
	}
	return cfg.Model
}

// isKnownModel builds the directive lookup: claude aliases, gemini and
// gpt prefixes, and cached codex model ids.
func (o *Orchestrator) isKnownModel(ctx context.Context) func(string) bool {
	var catalog params.ModelCatalog
	if o.catalog != nil {
		if cat, err := o.catalog.Load(ctx); err == nil {
			catalog = cat
		}
	}
	return func(name string) bool {
		if models.IsClaudeModel(name) {
			return true
		}
		if strings.HasPrefix(name, "gemini") || strings.HasPrefix(name, "gpt") {
			return true
		}
		return catalog.Has(name)
	}
}

func (o *Orchestrator) applySessionID(sess *session.Session, resp service.AgentResponse) {
	if resp.SessionID == "" || resp.SessionID == sess.SessionID() {
		return
	}
	log.Info(log.CatOrch, "session id updated",
		"from", truncateStr(sess.SessionID(), 8), "to", truncateStr(resp.SessionID, 8))
	sess.Active().SessionID = resp.SessionID
}

// sessionAgeNote returns the long-session footer. Shown once every 10
// messages past the configured age threshold.
func (o *Orchestrator) sessionAgeNote(sess *session.Session) string {
	cfg := o.conf.Snapshot()
	warning := cfg.Session.AgeWarning()
	if warning <= 0 {
		return ""
	}
	age := sess.Age(o.now())
	if age < warning {
		return ""
	}
	if sess.MessageCount()%10 != 0 {
		return ""
	}
	hours := int(age.Hours())
	label := fmt.Sprintf("%dh", hours)
	if hours >= 48 {
		label = fmt.Sprintf("%dd", hours/24)
	}
	return fmt.Sprintf("\n\n---\n[Session is %s old. Use /new for a fresh start.]", label)
}

// readMainMemory returns the workspace MAINMEMORY.md content, empty when
// the file is absent or blank.
func (o *Orchestrator) readMainMemory(chatID int64, cfg *config.Config) string {
	workspace := cfg.WorkspaceFor(chatID)
	if workspace == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(workspace, mainMemoryFile))
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	return content
}

func (o *Orchestrator) publish(chatID int64, source, text string) {
	if o.bus == nil || text == "" {
		return
	}
	o.bus.Publish(pubsub.CreatedEvent, Reply{ChatID: chatID, Source: source, Text: text})
}

// sigKilled reports whether the response indicates the subprocess died
// to SIGKILL (signalled or the shell's 128+9 exit code).
func sigKilled(resp service.AgentResponse) bool {
	return resp.SigKilled || (resp.IsError && resp.ExitCode == 137)
}

// stripAckToken removes a leading/trailing ack token from the reply.
func stripAckToken(text, token string) string {
	stripped := strings.TrimSpace(text)
	if token == "" {
		return stripped
	}
	if stripped == token {
		return ""
	}
	stripped = strings.TrimSpace(strings.TrimPrefix(stripped, token))
	stripped = strings.TrimSpace(strings.TrimSuffix(stripped, token))
	return stripped
}

// sanitizeInput strips control characters (keeping line breaks and
// tabs) and caps the length.
func sanitizeInput(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
	if len(cleaned) > maxInputChars {
		log.Warn(log.CatOrch, "input truncated", "chars", len(cleaned), "cap", maxInputChars)
		cleaned = cleaned[:maxInputChars]
	}
	return cleaned
}

// truncateStr cuts s to at most max grapheme clusters so multibyte
// text never gets split mid-rune in log previews.
func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	var b strings.Builder
	gr := uniseg.NewGraphemes(s)
	for n := 0; n < max && gr.Next(); n++ {
		b.WriteString(gr.Str())
	}
	return b.String()
}
