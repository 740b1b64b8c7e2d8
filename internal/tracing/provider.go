// Package tracing wires OpenTelemetry spans around agent executions and
// observer job runs. When disabled it collapses to a no-op tracer with
// zero overhead.
package tracing

import (
	"context"
	"fmt"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ductor/ductor/internal/config"
)

const serviceName = "ductor"

// Span names used across the system.
const (
	SpanAgentExecute    = "agent.execute"
	SpanCronJob         = "cron.job"
	SpanWebhookDispatch = "webhook.dispatch"
	SpanHeartbeat       = "heartbeat.check"
)

// Common attribute keys.
const (
	AttrChatID    = "ductor.chat_id"
	AttrProvider  = "ductor.provider"
	AttrModel     = "ductor.model"
	AttrLabel     = "ductor.label"
	AttrJobName   = "ductor.job_name"
	AttrHookName  = "ductor.hook_name"
	AttrSessionID = "ductor.session_id"
)

// Provider owns the tracer provider lifecycle. Construct one at startup
// and call Shutdown before exit so batched spans get flushed.
type Provider struct {
	sdk     *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

// New builds a provider from config. home anchors the default file
// exporter path. A disabled config yields a no-op provider.
func New(cfg config.TracingConfig, home string) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(serviceName)}, nil
	}

	exporter, err := buildExporter(cfg, home)
	if err != nil {
		return nil, err
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	sdk := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(sdk)

	return &Provider{
		sdk:     sdk,
		tracer:  sdk.Tracer(serviceName),
		enabled: true,
	}, nil
}

func buildExporter(cfg config.TracingConfig, home string) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = filepath.Join(home, "traces.jsonl")
		}
		exp, err := newFileExporter(path)
		if err != nil {
			return nil, fmt.Errorf("file exporter: %w", err)
		}
		return exp, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		exp, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nil
	case "none", "":
		// Tracing enabled for in-process correlation only.
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
	}
}

// Tracer returns the tracer for creating spans. Always safe to use;
// it is a no-op tracer when tracing is disabled.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Tracer returns the process-global tracer. Packages that cannot take
// a tracer by injection (observer job loops) use this; it is a no-op
// until a Provider is constructed with tracing enabled.
func Tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}

// Enabled reports whether spans are actually recorded.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes pending spans and releases exporter resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
