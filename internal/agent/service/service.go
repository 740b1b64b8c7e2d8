// Package service executes provider CLI runs on behalf of chats. It
// resolves models to installed providers, supervises the spawned
// process through the client layer, and normalizes the outcome into an
// AgentResponse regardless of provider.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/agent/models"
	"github.com/ductor/ductor/internal/agent/registry"
	"github.com/ductor/ductor/internal/log"
)

// Config carries the service-wide execution defaults.
type Config struct {
	WorkDir         string
	DefaultModel    string
	MaxTurns        int
	MaxBudgetUSD    float64
	PermissionMode  string
	SandboxMode     string
	ReasoningEffort string
	DockerContainer string

	// ExtraArgs holds per-provider passthrough CLI arguments.
	ExtraArgs map[client.ClientType][]string
}

// AgentRequest describes one CLI run.
type AgentRequest struct {
	ChatID             int64
	Prompt             string
	SystemPrompt       string
	AppendSystemPrompt string

	// ModelOverride replaces the configured default model.
	ModelOverride string

	// ProviderOverride pins the provider, skipping model resolution.
	ProviderOverride client.ClientType

	// ResumeSessionID resumes a provider session; ContinueSession resumes
	// the most recent one.
	ResumeSessionID string
	ContinueSession bool

	// NoSessionPersistence marks one-shot runs (cron, webhooks).
	NoSessionPersistence bool

	// WorkDir overrides the configured working directory. Scheduled
	// tasks run inside their task folder.
	WorkDir string

	// ReasoningEffort overrides the configured effort for this run.
	ReasoningEffort string

	// ExtraArgs appends passthrough CLI arguments for this run.
	ExtraArgs []string

	// Timeout bounds the run. Zero uses the provider default.
	Timeout time.Duration

	// Label describes the run for process tracking and logs.
	Label string
}

// AgentResponse is the normalized outcome of a CLI run.
type AgentResponse struct {
	Text      string
	SessionID string
	Model     string
	Provider  client.ClientType
	IsError   bool
	ExitCode  int
	TimedOut  bool
	SigKilled bool
	Usage     client.UsageInfo

	// StreamFallback marks a response produced by the non-streaming
	// retry after a broken stream.
	StreamFallback bool

	DurationMS int64
}

// StreamCallbacks receive events during a streaming run. Nil callbacks
// are skipped.
type StreamCallbacks struct {
	OnText     func(text string)
	OnThinking func(text string)
	OnToolUse  func(name string, input json.RawMessage)
	OnStatus   func(status string)
}

// RequestMutator adjusts a request before spawn. The orchestrator's
// memory hook uses this to inject the append-system-prompt.
type RequestMutator func(req *AgentRequest)

// RunRecorder persists per-run accounting. Implemented by the history
// store; recording failures are logged, never propagated.
type RunRecorder interface {
	RecordRun(rec RunRecord)
}

// RunRecord is one row of run history.
type RunRecord struct {
	ChatID       int64
	Provider     string
	Model        string
	Label        string
	Status       string
	SessionID    string
	DurationMS   int64
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Error        string
}

// spawnFunc is the test seam for process creation.
type spawnFunc func(ctx context.Context, provider client.ClientType, cfg client.Config) (client.HeadlessProcess, error)

// Service executes agent runs.
type Service struct {
	cfg      Config
	models   *models.Registry
	procs    *registry.Registry
	recorder RunRecorder
	mutators []RequestMutator
	spawn    spawnFunc
}

// New creates a service over the given model registry and process
// registry.
func New(cfg Config, modelReg *models.Registry, procs *registry.Registry) *Service {
	return &Service{
		cfg:    cfg,
		models: modelReg,
		procs:  procs,
		spawn:  defaultSpawn,
	}
}

// SetRecorder installs the run-history recorder.
func (s *Service) SetRecorder(r RunRecorder) {
	s.recorder = r
}

// AddMutator appends a request mutator applied before every spawn.
func (s *Service) AddMutator(m RequestMutator) {
	s.mutators = append(s.mutators, m)
}

// SetSpawner substitutes the process spawner, for tests.
func (s *Service) SetSpawner(fn func(ctx context.Context, provider client.ClientType, cfg client.Config) (client.HeadlessProcess, error)) {
	s.spawn = fn
}

func defaultSpawn(ctx context.Context, provider client.ClientType, cfg client.Config) (client.HeadlessProcess, error) {
	c, err := client.NewClient(provider)
	if err != nil {
		return nil, err
	}
	return c.Spawn(ctx, cfg)
}

// resolve maps the request onto a concrete (model, provider) pair.
func (s *Service) resolve(req AgentRequest) (string, client.ClientType, error) {
	model := req.ModelOverride
	if model == "" {
		model = s.cfg.DefaultModel
	}
	if req.ProviderOverride != "" {
		return model, req.ProviderOverride, nil
	}
	return s.models.Resolve(model)
}

// buildConfig assembles the client config for a resolved run.
func (s *Service) buildConfig(req AgentRequest, model string, provider client.ClientType, streaming bool) client.Config {
	workDir := s.cfg.WorkDir
	if req.WorkDir != "" {
		workDir = req.WorkDir
	}
	effort := s.cfg.ReasoningEffort
	if req.ReasoningEffort != "" {
		effort = req.ReasoningEffort
	}
	extraArgs := s.cfg.ExtraArgs[provider]
	if len(req.ExtraArgs) > 0 {
		extraArgs = append(append([]string(nil), extraArgs...), req.ExtraArgs...)
	}
	return client.Config{
		WorkDir:              workDir,
		Prompt:               req.Prompt,
		SystemPrompt:         req.SystemPrompt,
		AppendSystemPrompt:   req.AppendSystemPrompt,
		Model:                model,
		ResumeSessionID:      req.ResumeSessionID,
		ContinueSession:      req.ContinueSession,
		Streaming:            streaming,
		PermissionMode:       s.cfg.PermissionMode,
		SandboxMode:          s.cfg.SandboxMode,
		ReasoningEffort:      effort,
		MaxTurns:             s.cfg.MaxTurns,
		MaxBudgetUSD:         s.cfg.MaxBudgetUSD,
		NoSessionPersistence: req.NoSessionPersistence,
		DockerContainer:      s.cfg.DockerContainer,
		ChatID:               req.ChatID,
		Label:                req.Label,
		Timeout:              req.Timeout,
		ExtraArgs:            extraArgs,
	}
}

// Execute runs a non-streaming CLI call.
func (s *Service) Execute(ctx context.Context, req AgentRequest) (AgentResponse, error) {
	for _, m := range s.mutators {
		m(&req)
	}

	model, provider, err := s.resolve(req)
	if err != nil {
		return AgentResponse{}, err
	}

	log.Info(log.CatCLI, "execute starting",
		"label", req.Label, "model", model, "provider", provider.String())

	t0 := time.Now()
	proc, err := s.spawn(ctx, provider, s.buildConfig(req, model, provider, false))
	if err != nil {
		return AgentResponse{}, err
	}
	s.procs.Register(req.ChatID, proc, req.Label)
	defer s.procs.Unregister(req.ChatID, proc)

	var result *client.OutputEvent
	sessionID := ""
	for ev := range proc.Events() {
		if ev.SessionID != "" && sessionID == "" {
			sessionID = ev.SessionID
		}
		if ev.IsResult() {
			captured := ev
			result = &captured
		}
	}
	waitErr := proc.Wait()

	resp := s.buildResponse(proc, result, sessionID, model, provider, time.Since(t0))
	s.record(req, resp)
	s.logCall(req, resp, waitErr)
	return resp, nil
}

// ExecuteStreaming runs a streaming CLI call with callbacks, falling
// back to non-streaming when the stream breaks.
func (s *Service) ExecuteStreaming(ctx context.Context, req AgentRequest, cb StreamCallbacks) (AgentResponse, error) {
	for _, m := range s.mutators {
		m(&req)
	}

	model, provider, err := s.resolve(req)
	if err != nil {
		return AgentResponse{}, err
	}

	log.Info(log.CatCLI, "streaming starting",
		"label", req.Label, "model", model, "provider", provider.String())

	t0 := time.Now()
	proc, err := s.spawn(ctx, provider, s.buildConfig(req, model, provider, true))
	if err != nil {
		return AgentResponse{}, err
	}
	s.procs.Register(req.ChatID, proc, req.Label)
	defer s.procs.Unregister(req.ChatID, proc)

	var (
		accumulated string
		result      *client.OutputEvent
		sessionID   string
		aborted     bool
	)

	for ev := range proc.Events() {
		if s.procs.WasAborted(req.ChatID) {
			log.Info(log.CatCLI, "streaming aborted mid-stream", "chat_id", req.ChatID)
			aborted = true
			break
		}
		if ev.SessionID != "" && sessionID == "" {
			sessionID = ev.SessionID
		}
		switch {
		case ev.IsText():
			accumulated += ev.Text
			if cb.OnText != nil {
				cb.OnText(ev.Text)
			}
		case ev.IsThinking():
			if cb.OnThinking != nil {
				cb.OnThinking(ev.Text)
			}
		case ev.IsToolUse():
			if cb.OnToolUse != nil {
				cb.OnToolUse(ev.ToolName, ev.ToolInput)
			}
		case ev.Type == client.EventTypeSystem && ev.SubType == client.SubTypeStatus:
			if cb.OnStatus != nil {
				cb.OnStatus(ev.Text)
			}
		case ev.IsResult():
			captured := ev
			result = &captured
		}
	}

	if aborted || result == nil {
		return s.handleStreamFallback(ctx, req, proc, accumulated, aborted)
	}
	waitErr := proc.Wait()

	if result.Text == "" {
		result.Text = accumulated
	}
	resp := s.buildResponse(proc, result, sessionID, model, provider, time.Since(t0))
	s.record(req, resp)
	s.logCall(req, resp, waitErr)
	return resp, nil
}

// handleStreamFallback resolves a stream that ended without a result
// event: aborted runs return empty, a cleanly closed stream with text
// uses the accumulated text, anything else retries non-streaming once.
func (s *Service) handleStreamFallback(
	ctx context.Context,
	req AgentRequest,
	proc client.HeadlessProcess,
	accumulated string,
	aborted bool,
) (AgentResponse, error) {
	if aborted || s.procs.WasAborted(req.ChatID) {
		_ = proc.Cancel()
		log.Info(log.CatCLI, "stream fallback: aborted", "chat_id", req.ChatID)
		return AgentResponse{}, nil
	}

	waitErr := proc.Wait()
	if accumulated != "" && waitErr == nil && !proc.SigKilled() {
		log.Info(log.CatCLI, "stream ended without result, using accumulated text",
			"chars", len(accumulated))
		return AgentResponse{
			Text:      accumulated,
			SessionID: proc.SessionID(),
		}, nil
	}

	log.Warn(log.CatCLI, "streaming failed, retrying non-streaming",
		"label", req.Label, "accumulated", len(accumulated), "error", waitErr)
	resp, err := s.Execute(ctx, req)
	if err != nil {
		return AgentResponse{}, err
	}
	resp.StreamFallback = true
	return resp, nil
}

func (s *Service) buildResponse(
	proc client.HeadlessProcess,
	result *client.OutputEvent,
	sessionID, model string,
	provider client.ClientType,
	elapsed time.Duration,
) AgentResponse {
	resp := AgentResponse{
		SessionID:  sessionID,
		Model:      model,
		Provider:   provider,
		ExitCode:   proc.ExitCode(),
		SigKilled:  proc.SigKilled(),
		DurationMS: elapsed.Milliseconds(),
	}
	if resp.SessionID == "" {
		resp.SessionID = proc.SessionID()
	}
	if result != nil {
		resp.Text = result.Text
		resp.IsError = result.IsError
		if result.Usage != nil {
			resp.Usage = *result.Usage
		}
	}
	if bp, ok := proc.(interface{ TimedOut() bool }); ok {
		resp.TimedOut = bp.TimedOut()
	}
	return resp
}

func (s *Service) record(req AgentRequest, resp AgentResponse) {
	if s.recorder == nil {
		return
	}
	status := "ok"
	errText := ""
	switch {
	case resp.TimedOut:
		status = "timeout"
	case resp.IsError:
		status = "error"
		errText = truncate(resp.Text, 500)
	}
	s.recorder.RecordRun(RunRecord{
		ChatID:       req.ChatID,
		Provider:     resp.Provider.String(),
		Model:        resp.Model,
		Label:        req.Label,
		Status:       status,
		SessionID:    resp.SessionID,
		DurationMS:   resp.DurationMS,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      resp.Usage.TotalCostUSD,
		Error:        errText,
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func (s *Service) logCall(req AgentRequest, resp AgentResponse, waitErr error) {
	status := "ok"
	if resp.IsError || waitErr != nil {
		status = "error"
	}
	log.Info(log.CatCLI, "execute completed",
		"label", req.Label,
		"status", status,
		"cost_usd", resp.Usage.TotalCostUSD,
		"tokens", resp.Usage.InputTokens+resp.Usage.OutputTokens,
		"duration_ms", resp.DurationMS)
}
