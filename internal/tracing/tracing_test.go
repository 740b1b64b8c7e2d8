package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/agent/service"
	"github.com/ductor/ductor/internal/config"
)

func TestNew_DisabledReturnsNoop(t *testing.T) {
	p, err := New(config.TracingConfig{Enabled: false}, t.TempDir())
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))

	// Spans from a no-op tracer must not record.
	_, span := p.Tracer().Start(context.Background(), "ignored")
	require.False(t, span.IsRecording())
	span.End()
}

func TestNew_FileExporterWritesSpans(t *testing.T) {
	home := t.TempDir()
	p, err := New(config.TracingConfig{
		Enabled:    true,
		Exporter:   "file",
		SampleRate: 1.0,
	}, home)
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), SpanCronJob)
	span.SetAttributes(attribute.String(AttrJobName, "daily-summary"))
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(filepath.Join(home, "traces.jsonl"))
	require.NoError(t, err)

	var rec spanRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, SpanCronJob, rec.Name)
	require.Equal(t, "daily-summary", rec.Attributes[AttrJobName])
	require.NotEmpty(t, rec.TraceID)
	require.NotEmpty(t, rec.SpanID)
}

func TestNew_UnsupportedExporter(t *testing.T) {
	_, err := New(config.TracingConfig{Enabled: true, Exporter: "kafka"}, t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "kafka")
}

func TestFileExporter_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "traces.jsonl")

	exp, err := newFileExporter(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
}

func TestFileExporter_AppendsAndEncodesStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"existing":"line"}`+"\n"), 0o600))

	exp, err := newFileExporter(path)
	require.NoError(t, err)

	stub := tracetest.SpanStub{
		Name:      "error-span",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(50 * time.Millisecond),
		Status:    sdktrace.Status{Code: codes.Error, Description: "agent crashed"},
	}
	require.NoError(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()}))
	require.NoError(t, exp.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `{"existing":"line"}`)

	var first map[string]any
	var rec spanRecord
	d := json.NewDecoder(bytes.NewReader(data))
	require.NoError(t, d.Decode(&first))
	require.NoError(t, d.Decode(&rec))
	require.Equal(t, "error-span", rec.Name)
	require.Equal(t, "ERROR", rec.Status)
	require.Equal(t, "agent crashed", rec.StatusMsg)
	require.InDelta(t, 50.0, rec.DurationMS, 1.0)
}

func TestFileExporter_ShutdownIdempotent(t *testing.T) {
	exp, err := newFileExporter(filepath.Join(t.TempDir(), "traces.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.ExportSpans(context.Background(), nil))
}

type stubAgent struct {
	resp service.AgentResponse
	err  error
	reqs []service.AgentRequest
}

func (s *stubAgent) Execute(_ context.Context, req service.AgentRequest) (service.AgentResponse, error) {
	s.reqs = append(s.reqs, req)
	return s.resp, s.err
}

func (s *stubAgent) ExecuteStreaming(_ context.Context, req service.AgentRequest, _ service.StreamCallbacks) (service.AgentResponse, error) {
	s.reqs = append(s.reqs, req)
	return s.resp, s.err
}

func recordingTracer(t *testing.T) (*tracetest.SpanRecorder, *Executor, *stubAgent) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	stub := &stubAgent{}
	return sr, WrapExecutor(stub, tp.Tracer("test")), stub
}

func TestExecutor_SpansSuccessfulRun(t *testing.T) {
	sr, exec, stub := recordingTracer(t)
	stub.resp = service.AgentResponse{
		Text:      "done",
		SessionID: "sess-1",
		Usage:     client.UsageInfo{InputTokens: 10, OutputTokens: 20, TotalCostUSD: 0.05},
	}

	resp, err := exec.Execute(context.Background(), service.AgentRequest{
		ChatID:           7,
		Prompt:           "hello",
		ModelOverride:    "opus",
		ProviderOverride: client.ClientClaude,
		Label:            "message",
	})
	require.NoError(t, err)
	require.Equal(t, "done", resp.Text)
	require.Len(t, stub.reqs, 1)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, SpanAgentExecute, spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	require.EqualValues(t, 7, attrs[AttrChatID])
	require.Equal(t, "opus", attrs[AttrModel])
	require.Equal(t, "message", attrs[AttrLabel])
	require.Equal(t, "sess-1", attrs[AttrSessionID])
	require.EqualValues(t, 20, attrs["ductor.tokens_out"])
}

func TestExecutor_SpansAgentError(t *testing.T) {
	sr, exec, stub := recordingTracer(t)
	stub.resp = service.AgentResponse{IsError: true, ExitCode: 137}

	_, err := exec.ExecuteStreaming(context.Background(), service.AgentRequest{ChatID: 7}, service.StreamCallbacks{})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestExecutor_SpansTransportError(t *testing.T) {
	sr, exec, stub := recordingTracer(t)
	stub.err = errors.New("spawn failed")

	_, err := exec.Execute(context.Background(), service.AgentRequest{ChatID: 7})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "spawn failed", spans[0].Status().Description)
}

func TestJobSpanHelpers(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := StartJob(context.Background(), tp.Tracer("test"), SpanWebhookDispatch,
		attribute.String(AttrHookName, "wake"))
	EndJob(span, nil)

	_, span = StartJob(context.Background(), tp.Tracer("test"), SpanCronJob)
	EndJob(span, errors.New("job failed"))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "job failed", spans[1].Status().Description)
}
