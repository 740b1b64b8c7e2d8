package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/agent/params"
	"github.com/ductor/ductor/internal/agent/service"
	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/paths"
	"github.com/ductor/ductor/internal/tracing"
)

// Run statuses persisted to the job's last-run record.
const (
	StatusSuccess       = "success"
	StatusTimeout       = "error:timeout"
	StatusFolderMissing = "error:folder_missing"
)

// Result is the outcome of one job execution, delivered to the observer's
// result callback.
type Result struct {
	Job      string
	Status   string
	Output   string
	Duration time.Duration
	Skipped  bool // quiet hours; nothing ran, nothing recorded
}

// Executor runs one agent call. Satisfied by *service.Service.
type Executor interface {
	Execute(ctx context.Context, req service.AgentRequest) (service.AgentResponse, error)
}

// Runner executes one cron job end to end: dependency slot, quiet hours,
// task folder check, parameter resolution, one-shot CLI run, and the
// last-run record.
type Runner struct {
	exec     Executor
	conf     *config.Store
	resolver *params.Resolver
	manager  *Manager
	deps     *DependencyQueue
	home     paths.Home
	now      func() time.Time
}

func NewRunner(exec Executor, conf *config.Store, resolver *params.Resolver, manager *Manager, home paths.Home) *Runner {
	return &Runner{
		exec:     exec,
		conf:     conf,
		resolver: resolver,
		manager:  manager,
		deps:     NewDependencyQueue(),
		home:     home,
		now:      time.Now,
	}
}

// Dependencies exposes the queue for diagnostics.
func (r *Runner) Dependencies() *DependencyQueue {
	return r.deps
}

// Run executes the job. Quiet hours skip silently; every other outcome
// is recorded on the job before returning.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	if err := r.deps.Acquire(ctx, job.Dependency); err != nil {
		return Result{Job: job.Name, Status: "error:cancelled", Skipped: true}
	}
	defer r.deps.Release(job.Dependency)

	log.Info(log.CatCron, "cron job starting", "job", job.Name)
	cfg := r.conf.Snapshot()

	if r.inQuietHours(job, cfg) {
		log.Debug(log.CatCron, "cron job skipped for quiet hours", "job", job.Name)
		return Result{Job: job.Name, Skipped: true}
	}

	ctx, span := tracing.StartJob(ctx, tracing.Tracer(), tracing.SpanCronJob,
		attribute.String(tracing.AttrJobName, job.Name))
	defer span.End()

	started := r.now()
	folder := r.home.TaskFolder(job.TaskFolder)
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		log.Error(log.CatCron, "cron task folder missing", "job", job.Name, "folder", folder)
		span.SetStatus(codes.Error, StatusFolderMissing)
		r.record(job.Name, started, StatusFolderMissing)
		return Result{Job: job.Name, Status: StatusFolderMissing}
	}

	execCfg, err := r.resolver.Resolve(ctx, params.Overrides{
		Provider:        job.Provider,
		Model:           job.Model,
		ReasoningEffort: job.ReasoningEffort,
		CLIParameters:   job.CLIParameters,
	})
	if err != nil {
		log.ErrorErr(log.CatCron, "cron parameter resolution failed", err, "job", job.Name)
		status := "error:invalid_config"
		span.SetStatus(codes.Error, status)
		r.record(job.Name, started, status)
		return Result{Job: job.Name, Status: status}
	}
	span.SetAttributes(
		attribute.String(tracing.AttrProvider, execCfg.Provider),
		attribute.String(tracing.AttrModel, execCfg.Model),
	)

	timeout := time.Duration(cfg.CLITimeoutSecs) * time.Second
	if job.TimeoutSecs > 0 {
		timeout = time.Duration(job.TimeoutSecs) * time.Second
	}

	resp, err := r.exec.Execute(ctx, service.AgentRequest{
		Prompt:               EnrichInstruction(job.Prompt, job.TaskFolder),
		ModelOverride:        execCfg.Model,
		ProviderOverride:     client.ClientType(execCfg.Provider),
		ReasoningEffort:      execCfg.ReasoningEffort,
		ExtraArgs:            execCfg.CLIParameters,
		WorkDir:              folder,
		NoSessionPersistence: true,
		Timeout:              timeout,
		Label:                "cron:" + job.Name,
	})

	duration := r.now().Sub(started)
	status := statusFor(resp, err, execCfg.Provider)
	if status == StatusSuccess {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, status)
	}
	r.record(job.Name, started, status)

	log.Info(log.CatCron, "cron job completed",
		"job", job.Name, "status", status, "duration_ms", duration.Milliseconds())
	return Result{Job: job.Name, Status: status, Output: resp.Text, Duration: duration}
}

// EnrichInstruction appends the task-folder memory directions.
func EnrichInstruction(instruction, taskFolder string) string {
	memoryFile := taskFolder + "_MEMORY.md"
	return fmt.Sprintf(
		"%s\n\nIMPORTANT:\n"+
			"- Read the %s file (it contains important information!)\n"+
			"- When finished, update %s with DATE + TIME and what you have done.",
		instruction, memoryFile, memoryFile)
}

func statusFor(resp service.AgentResponse, err error, provider string) string {
	switch {
	case err != nil && errors.Is(err, client.ErrExecutableNotFound):
		return "error:cli_not_found_" + provider
	case err != nil:
		return "error:exception"
	case resp.TimedOut:
		return StatusTimeout
	case resp.ExitCode != 0:
		return fmt.Sprintf("error:exit_%d", resp.ExitCode)
	default:
		return StatusSuccess
	}
}

func (r *Runner) inQuietHours(job Job, cfg *config.Config) bool {
	start := cfg.Heartbeat.QuietStartHour
	end := cfg.Heartbeat.QuietEndHour
	if job.QuietStartHour != nil && job.QuietEndHour != nil {
		start, end = *job.QuietStartHour, *job.QuietEndHour
	}
	loc := config.ResolveLocation(cfg.Timezone)
	return config.InQuietWindow(r.now().In(loc).Hour(), start, end)
}

func (r *Runner) record(name string, at time.Time, status string) {
	if err := r.manager.RecordRun(name, at, status, r.now().Sub(at)); err != nil {
		log.Warn(log.CatCron, "failed to record cron run", "job", name, "error", err)
	}
}
