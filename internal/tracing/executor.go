package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ductor/ductor/internal/agent/service"
)

// agentExecutor is the slice of the agent service the decorator wraps.
type agentExecutor interface {
	Execute(ctx context.Context, req service.AgentRequest) (service.AgentResponse, error)
	ExecuteStreaming(ctx context.Context, req service.AgentRequest, cb service.StreamCallbacks) (service.AgentResponse, error)
}

// Executor decorates an agent executor with agent.execute spans. It is
// transparent to callers; with a no-op tracer the only cost is the
// interface indirection.
type Executor struct {
	next   agentExecutor
	tracer trace.Tracer
}

// WrapExecutor returns exec decorated with spans from tracer.
func WrapExecutor(exec agentExecutor, tracer trace.Tracer) *Executor {
	return &Executor{next: exec, tracer: tracer}
}

// Execute implements the agent executor surface.
func (e *Executor) Execute(ctx context.Context, req service.AgentRequest) (service.AgentResponse, error) {
	ctx, span := e.start(ctx, req)
	defer span.End()

	resp, err := e.next.Execute(ctx, req)
	e.finish(span, resp, err)
	return resp, err
}

// ExecuteStreaming implements the agent executor surface.
func (e *Executor) ExecuteStreaming(ctx context.Context, req service.AgentRequest, cb service.StreamCallbacks) (service.AgentResponse, error) {
	ctx, span := e.start(ctx, req)
	defer span.End()

	resp, err := e.next.ExecuteStreaming(ctx, req, cb)
	e.finish(span, resp, err)
	return resp, err
}

func (e *Executor) start(ctx context.Context, req service.AgentRequest) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, SpanAgentExecute,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64(AttrChatID, req.ChatID),
			attribute.String(AttrProvider, string(req.ProviderOverride)),
			attribute.String(AttrModel, req.ModelOverride),
			attribute.String(AttrLabel, req.Label),
			attribute.Bool("ductor.resume", req.ResumeSessionID != ""),
		),
	)
}

func (e *Executor) finish(span trace.Span, resp service.AgentResponse, err error) {
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case resp.IsError:
		span.SetStatus(codes.Error, "agent returned error")
		span.SetAttributes(
			attribute.Int("ductor.exit_code", resp.ExitCode),
			attribute.Bool("ductor.timed_out", resp.TimedOut),
		)
	default:
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(
			attribute.String(AttrSessionID, resp.SessionID),
			attribute.Int64("ductor.tokens_in", resp.Usage.InputTokens),
			attribute.Int64("ductor.tokens_out", resp.Usage.OutputTokens),
			attribute.Float64("ductor.cost_usd", resp.Usage.TotalCostUSD),
			attribute.Int64("ductor.duration_ms", resp.DurationMS),
		)
	}
}

// StartJob opens a span for an observer job run (cron, webhook,
// heartbeat). Callers must End the span; use EndJob to record outcome.
func StartJob(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndJob records the outcome on a job span and ends it.
func EndJob(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
