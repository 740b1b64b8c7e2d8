package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/agent/models"
	"github.com/ductor/ductor/internal/agent/registry"
	"github.com/ductor/ductor/internal/agent/service"
	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/paths"
	"github.com/ductor/ductor/internal/pubsub"
	"github.com/ductor/ductor/internal/session"
)

// stubExec queues streaming responses and records every request.
type stubExec struct {
	mu       sync.Mutex
	streamed []service.AgentRequest
	executed []service.AgentRequest
	queue    []service.AgentResponse
	execResp service.AgentResponse
	execErr  error
	during   func()
}

func (s *stubExec) Execute(_ context.Context, req service.AgentRequest) (service.AgentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, req)
	return s.execResp, s.execErr
}

func (s *stubExec) ExecuteStreaming(_ context.Context, req service.AgentRequest, _ service.StreamCallbacks) (service.AgentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamed = append(s.streamed, req)
	if s.during != nil {
		s.during()
	}
	if len(s.queue) == 0 {
		return service.AgentResponse{Text: "done"}, nil
	}
	resp := s.queue[0]
	s.queue = s.queue[1:]
	return resp, nil
}

func (s *stubExec) streamedReqs() []service.AgentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]service.AgentRequest(nil), s.streamed...)
}

type fixture struct {
	orch     *Orchestrator
	exec     *stubExec
	home     paths.Home
	conf     *config.Store
	sessions *session.Store
	procs    *registry.Registry
}

func newFixture(t *testing.T, overrides map[string]any) *fixture {
	t.Helper()
	home := paths.Home{Root: t.TempDir()}
	require.NoError(t, home.EnsureLayout())

	conf := map[string]any{
		"timezone": "UTC",
		// Disabled quiet window keeps cron runs deterministic under the
		// real clock.
		"heartbeat": map[string]any{"quiet_start_hour": 0, "quiet_end_hour": 0},
	}
	for k, v := range overrides {
		conf[k] = v
	}
	data, err := json.Marshal(conf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(home.ConfigFile(), data, 0644))

	store, _, err := config.NewStore(home)
	require.NoError(t, err)

	sessions := session.NewStore(home.SessionsFile(), store)
	procs := registry.New()
	modelReg := models.NewRegistry([]client.ClientType{client.ClientClaude})
	exec := &stubExec{}

	orch := New(store, sessions, exec, procs, modelReg)
	return &fixture{
		orch:     orch,
		exec:     exec,
		home:     home,
		conf:     store,
		sessions: sessions,
		procs:    procs,
	}
}

// seedSession runs one successful message so the chat has a resumable
// session with the given id.
func (f *fixture) seedSession(t *testing.T, chatID int64, sid string) {
	t.Helper()
	f.exec.queue = append(f.exec.queue, service.AgentResponse{Text: "seeded", SessionID: sid})
	res := f.orch.HandleMessage(context.Background(), chatID, "hello")
	require.Equal(t, "seeded", res.Text)
	sess := f.sessions.Get(chatID)
	require.NotNil(t, sess)
	require.Equal(t, sid, sess.SessionID())
}

func TestHandleMessage_SimpleConversation(t *testing.T) {
	f := newFixture(t, nil)

	f.exec.queue = []service.AgentResponse{{
		Text:      "hi there",
		SessionID: "sid-1",
		Usage:     client.UsageInfo{InputTokens: 10, OutputTokens: 5, TotalCostUSD: 0.01},
	}}
	res := f.orch.HandleMessage(context.Background(), 7, "hello agent")
	require.Equal(t, "hi there", res.Text)

	reqs := f.exec.streamedReqs()
	require.Len(t, reqs, 1)
	require.Equal(t, "hello agent", reqs[0].Prompt)
	require.Empty(t, reqs[0].ResumeSessionID)
	require.Equal(t, "opus", reqs[0].ModelOverride)
	require.Equal(t, client.ClientClaude, reqs[0].ProviderOverride)

	sess := f.sessions.Get(7)
	require.NotNil(t, sess)
	require.Equal(t, "sid-1", sess.SessionID())
	require.Equal(t, 1, sess.MessageCount())
	require.Equal(t, int64(15), sess.TotalTokens())
	require.InDelta(t, 0.01, sess.TotalCostUSD(), 1e-9)
}

func TestHandleMessage_SecondMessageResumes(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSession(t, 7, "sid-1")

	f.exec.queue = []service.AgentResponse{{Text: "again", SessionID: "sid-1"}}
	res := f.orch.HandleMessage(context.Background(), 7, "and another thing")
	require.Equal(t, "again", res.Text)

	reqs := f.exec.streamedReqs()
	require.Len(t, reqs, 2)
	require.Equal(t, "sid-1", reqs[1].ResumeSessionID)
}

func TestHandleMessage_MainMemoryInjectedOnFreshSession(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(workspace, "MAINMEMORY.md"), []byte("user prefers short answers"), 0644))

	f := newFixture(t, map[string]any{"default_workspace": workspace})
	f.seedSession(t, 7, "sid-1")

	f.exec.queue = []service.AgentResponse{{Text: "ok", SessionID: "sid-1"}}
	f.orch.HandleMessage(context.Background(), 7, "next")

	reqs := f.exec.streamedReqs()
	require.Len(t, reqs, 2)
	require.Equal(t, "user prefers short answers", reqs[0].AppendSystemPrompt)
	require.Empty(t, reqs[1].AppendSystemPrompt, "resumed sessions get no memory injection")
	require.Equal(t, workspace, reqs[0].WorkDir)
}

func TestHandleMessage_MemoryHookFiresOnSixthMessage(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 6; i++ {
		f.exec.queue = append(f.exec.queue, service.AgentResponse{Text: "ok", SessionID: "sid-1"})
	}
	for i := 0; i < 6; i++ {
		f.orch.HandleMessage(context.Background(), 7, "message")
	}

	reqs := f.exec.streamedReqs()
	require.Len(t, reqs, 6)
	for i := 0; i < 5; i++ {
		require.NotContains(t, reqs[i].Prompt, "## MEMORY CHECK")
	}
	require.Contains(t, reqs[5].Prompt, "## MEMORY CHECK")
}

func TestHandleMessage_DirectiveOnlyHint(t *testing.T) {
	f := newFixture(t, nil)

	res := f.orch.HandleMessage(context.Background(), 7, "@sonnet")
	require.Contains(t, res.Text, "Next message will use: sonnet")
	require.Empty(t, f.exec.streamedReqs())
}

func TestHandleMessage_DirectiveModelOverride(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleMessage(context.Background(), 7, "@sonnet quick question")
	reqs := f.exec.streamedReqs()
	require.Len(t, reqs, 1)
	require.Equal(t, "sonnet", reqs[0].ModelOverride)
	require.Equal(t, "quick question", reqs[0].Prompt)
}

func TestHandleMessage_ResumeFailureRetriesFresh(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSession(t, 7, "sid-1")

	f.exec.queue = []service.AgentResponse{
		{IsError: true, Text: "No conversation found with session ID"},
		{Text: "fresh reply", SessionID: "sid-2"},
	}
	res := f.orch.HandleMessage(context.Background(), 7, "continue please")
	require.Equal(t, "fresh reply", res.Text)

	reqs := f.exec.streamedReqs()
	require.Len(t, reqs, 3) // seed + failed resume + fresh retry
	require.Equal(t, "sid-1", reqs[1].ResumeSessionID)
	require.Empty(t, reqs[2].ResumeSessionID)

	sess := f.sessions.Get(7)
	require.Equal(t, "sid-2", sess.SessionID())
}

func TestHandleMessage_AbortMidStream(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSession(t, 7, "sid-1")
	countBefore := f.sessions.Get(7).MessageCount()

	// /stop lands while the subprocess is running: the registry kills it
	// and marks the chat aborted before the stream call returns.
	f.exec.during = func() { f.procs.KillAll(7) }
	f.exec.queue = []service.AgentResponse{
		{IsError: true, SigKilled: true, ExitCode: 137},
	}
	res := f.orch.HandleMessage(context.Background(), 7, "long running task")
	require.Empty(t, res.Text)

	// No retry, no counter movement, session left as it was.
	require.Len(t, f.exec.streamedReqs(), 2) // seed + aborted run
	sess := f.sessions.Get(7)
	require.Equal(t, countBefore, sess.MessageCount())
	require.Equal(t, "sid-1", sess.SessionID())
}

func TestHandleMessage_SigkillRetriesOnce(t *testing.T) {
	f := newFixture(t, nil)

	f.exec.queue = []service.AgentResponse{
		{SigKilled: true, IsError: true, ExitCode: 137},
		{Text: "recovered", SessionID: "sid-1"},
	}
	res := f.orch.HandleMessage(context.Background(), 7, "heavy request")
	require.Equal(t, "recovered", res.Text)
	require.Len(t, f.exec.streamedReqs(), 2)
}

func TestHandleMessage_SecondSigkillAsksForResend(t *testing.T) {
	f := newFixture(t, nil)

	f.exec.queue = []service.AgentResponse{
		{SigKilled: true},
		{SigKilled: true},
	}
	res := f.orch.HandleMessage(context.Background(), 7, "heavy request")
	require.Equal(t, sigkillRetryText, res.Text)
	require.Len(t, f.exec.streamedReqs(), 2)
}

func TestHandleMessage_TimeoutReply(t *testing.T) {
	f := newFixture(t, nil)

	f.exec.queue = []service.AgentResponse{{IsError: true, TimedOut: true}}
	res := f.orch.HandleMessage(context.Background(), 7, "slow request")
	require.Equal(t, "Agent timed out. Please try again.", res.Text)
}

func TestHandleMessage_ErrorResetsSession(t *testing.T) {
	f := newFixture(t, nil)

	f.exec.queue = []service.AgentResponse{{IsError: true, Text: "boom"}}
	res := f.orch.HandleMessage(context.Background(), 7, "hello")
	require.Contains(t, res.Text, "Session error. New session started.")
	require.Contains(t, res.Text, "[opus]")
}

func TestHandleMessage_UnknownCommand(t *testing.T) {
	f := newFixture(t, nil)

	res := f.orch.HandleMessage(context.Background(), 7, "/bogus")
	require.Contains(t, res.Text, "Unknown command")
	require.Contains(t, res.Text, "/status")
	require.Empty(t, f.exec.streamedReqs())
}

func TestHandleMessage_PublishesToResultBus(t *testing.T) {
	f := newFixture(t, nil)
	bus := pubsub.NewBroker[Reply]()
	f.orch.SetResultBus(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := bus.Subscribe(ctx)

	f.exec.queue = []service.AgentResponse{{Text: "hi", SessionID: "sid-1"}}
	f.orch.HandleMessage(context.Background(), 7, "hello")

	select {
	case ev := <-events:
		require.Equal(t, int64(7), ev.Payload.ChatID)
		require.Equal(t, "message", ev.Payload.Source)
		require.Equal(t, "hi", ev.Payload.Text)
	case <-time.After(time.Second):
		t.Fatal("no reply published")
	}
}

func TestSanitizeInput(t *testing.T) {
	require.Equal(t, "ab", sanitizeInput("a\x00\x07b"))
	require.Equal(t, "a\nb\tc", sanitizeInput("a\nb\tc"))

	long := make([]byte, maxInputChars+100)
	for i := range long {
		long[i] = 'x'
	}
	require.Len(t, sanitizeInput(string(long)), maxInputChars)
}

func TestSessionAgeNote(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now()
	f.orch.now = func() time.Time { return now }

	sess := &session.Session{
		ChatID:    7,
		Provider:  "claude",
		Model:     "opus",
		CreatedAt: now.Add(-13 * time.Hour),
		ProviderSessions: map[string]*session.ProviderSession{
			"claude": {SessionID: "sid-1", MessageCount: 10},
		},
	}
	note := f.orch.sessionAgeNote(sess)
	require.Contains(t, note, "13h old")
	require.Contains(t, note, "/new")

	// Only shown on every 10th message.
	sess.ProviderSessions["claude"].MessageCount = 11
	require.Empty(t, f.orch.sessionAgeNote(sess))

	// Below the threshold nothing is shown.
	sess.ProviderSessions["claude"].MessageCount = 10
	sess.CreatedAt = now.Add(-2 * time.Hour)
	require.Empty(t, f.orch.sessionAgeNote(sess))

	// Multi-day sessions round to days.
	sess.CreatedAt = now.Add(-72 * time.Hour)
	require.Contains(t, f.orch.sessionAgeNote(sess), "3d old")
}

func TestHeartbeatFlow_NoSessionSkips(t *testing.T) {
	f := newFixture(t, nil)

	alert, err := f.orch.HeartbeatFlow(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, alert)
	require.Empty(t, f.exec.executed)
}

func TestHeartbeatFlow_CooldownSkips(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSession(t, 7, "sid-1")

	// LastActive is now; well inside the default 5 minute cooldown.
	alert, err := f.orch.HeartbeatFlow(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, alert)
	require.Empty(t, f.exec.executed)
}

func TestHeartbeatFlow_AckSuppressed(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSession(t, 7, "sid-1")
	before := f.sessions.Get(7)

	f.orch.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	f.exec.execResp = service.AgentResponse{Text: "HEARTBEAT_OK"}

	alert, err := f.orch.HeartbeatFlow(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, alert)
	require.Len(t, f.exec.executed, 1)
	require.Equal(t, "sid-1", f.exec.executed[0].ResumeSessionID)

	// A pure ack updates nothing.
	after := f.sessions.Get(7)
	require.Equal(t, before.MessageCount(), after.MessageCount())
	require.Equal(t, before.LastActive.Unix(), after.LastActive.Unix())
}

func TestHeartbeatFlow_AlertDeliveredAndCounterUntouched(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSession(t, 7, "sid-1")
	before := f.sessions.Get(7)

	bus := pubsub.NewBroker[Reply]()
	f.orch.SetResultBus(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := bus.Subscribe(ctx)

	f.orch.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	f.exec.execResp = service.AgentResponse{Text: "HEARTBEAT_OK disk almost full"}

	alert, err := f.orch.HeartbeatFlow(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, "disk almost full", alert)

	select {
	case ev := <-events:
		require.Equal(t, "heartbeat", ev.Payload.Source)
		require.Equal(t, "disk almost full", ev.Payload.Text)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat alert published")
	}

	after := f.sessions.Get(7)
	require.Equal(t, before.MessageCount(), after.MessageCount())
}

func TestHeartbeatFlow_ProviderMismatchSkips(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSession(t, 7, "sid-1")

	// Codex becomes available and the chat is pinned to a codex model;
	// the stored claude session must not receive codex heartbeats.
	f.orch.modelReg = models.NewRegistry([]client.ClientType{client.ClientClaude, client.ClientCodex})
	f.orch.overrides[7] = "gpt-5.2-codex"
	f.orch.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	alert, err := f.orch.HeartbeatFlow(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, alert)
	require.Empty(t, f.exec.executed)
}

func TestHeartbeatFlow_AgentErrorSuppressed(t *testing.T) {
	f := newFixture(t, nil)
	f.seedSession(t, 7, "sid-1")

	f.orch.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	f.exec.execResp = service.AgentResponse{IsError: true, Text: "crashed"}

	alert, err := f.orch.HeartbeatFlow(context.Background(), 7)
	require.NoError(t, err)
	require.Empty(t, alert)
}

func TestStripAckToken(t *testing.T) {
	require.Empty(t, stripAckToken("HEARTBEAT_OK", "HEARTBEAT_OK"))
	require.Empty(t, stripAckToken("  HEARTBEAT_OK  ", "HEARTBEAT_OK"))
	require.Equal(t, "alert text", stripAckToken("HEARTBEAT_OK alert text", "HEARTBEAT_OK"))
	require.Equal(t, "alert text", stripAckToken("alert text HEARTBEAT_OK", "HEARTBEAT_OK"))
	require.Equal(t, "plain reply", stripAckToken("plain reply", "HEARTBEAT_OK"))
}
