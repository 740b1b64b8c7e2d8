package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ductor/ductor/internal/agent/models"
	"github.com/ductor/ductor/internal/agent/params"
	"github.com/ductor/ductor/internal/agent/registry"
	"github.com/ductor/ductor/internal/agent/service"
	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/cron"
	"github.com/ductor/ductor/internal/history"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/middleware"
	"github.com/ductor/ductor/internal/orchestrator"
	"github.com/ductor/ductor/internal/paths"
	"github.com/ductor/ductor/internal/pubsub"
	"github.com/ductor/ductor/internal/session"
	"github.com/ductor/ductor/internal/tracing"
)

// engine bundles the core subsystems shared by serve and chat: the
// config store, the agent executor, the orchestrator, and the message
// queue. Observers are wired on top by the individual commands.
type engine struct {
	home     paths.Home
	conf     *config.Store
	sessions *session.Store
	procs    *registry.Registry
	models   *models.Registry
	svc      *service.Service
	exec     *tracing.Executor
	orch     *orchestrator.Orchestrator
	queue    *middleware.Dispatcher
	bus      *pubsub.Broker[orchestrator.Reply]
	hist     *history.Store
	trace    *tracing.Provider
	catalog  *params.CatalogStore
	cronMgr  *cron.Manager
	cronRun  *cron.Runner
}

func buildEngine(home paths.Home) (*engine, error) {
	if err := home.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("prepare home %s: %w", home.Root, err)
	}

	conf, added, err := config.NewStore(home)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if added > 0 {
		log.Info(log.CatConfig, "config defaults restored", "added_keys", added)
	}
	cfg := conf.Snapshot()
	applyLogLevel(cfg.LogLevel)

	trace, err := tracing.New(cfg.Tracing, home.Root)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	procs := registry.New()
	modelReg := models.DetectRegistry()

	svc := service.New(service.Config{
		WorkDir:         cfg.DefaultWorkspace,
		DefaultModel:    cfg.Model,
		PermissionMode:  cfg.PermissionMode,
		ReasoningEffort: cfg.ReasoningEffort,
	}, modelReg, procs)

	hist, err := history.Open(home.HistoryDB())
	if err != nil {
		// Accounting is best effort; the flows run without it.
		log.ErrorErr(log.CatHistory, "history store unavailable", err)
		hist = nil
	} else {
		svc.SetRecorder(hist)
	}

	exec := tracing.WrapExecutor(svc, trace.Tracer())
	sessions := session.NewStore(home.SessionsFile(), conf)
	catalog := params.NewCatalogStore(home.CodexModelsFile())

	orch := orchestrator.New(conf, sessions, exec, procs, modelReg)
	orch.SetCatalog(catalog)
	if hist != nil {
		orch.SetHistory(hist)
	}

	cronMgr := cron.NewManager(home.CronJobsFile())
	resolver := params.NewResolver(conf, catalog)
	cronRun := cron.NewRunner(exec, conf, resolver, cronMgr, home)
	orch.SetCron(cronMgr, cronRun)

	bus := pubsub.NewBroker[orchestrator.Reply]()
	orch.SetResultBus(bus)

	queue := middleware.NewDispatcher(func(ctx context.Context, msg middleware.InboundMessage) {
		orch.HandleMessage(ctx, msg.ChatID, msg.Text)
	})
	queue.SetAbortHandler(func(ctx context.Context, msg middleware.InboundMessage) bool {
		orch.HandleMessage(ctx, msg.ChatID, "/stop")
		return true
	})
	queue.SetQuickCommandHandler(func(ctx context.Context, msg middleware.InboundMessage) bool {
		orch.HandleMessage(ctx, msg.ChatID, msg.Text)
		return true
	})
	orch.SetQueue(queue)

	return &engine{
		home:     home,
		conf:     conf,
		sessions: sessions,
		procs:    procs,
		models:   modelReg,
		svc:      svc,
		exec:     exec,
		orch:     orch,
		queue:    queue,
		bus:      bus,
		hist:     hist,
		trace:    trace,
		catalog:  catalog,
		cronMgr:  cronMgr,
		cronRun:  cronRun,
	}, nil
}

// close tears the engine down in reverse dependency order.
func (e *engine) close(ctx context.Context) {
	e.queue.Stop()
	for _, chatID := range e.chatIDs() {
		e.procs.KillAll(chatID)
	}
	e.bus.Close()
	if e.hist != nil {
		if err := e.hist.Close(); err != nil {
			log.Warn(log.CatHistory, "history close failed", "error", err)
		}
	}
	if err := e.trace.Shutdown(ctx); err != nil {
		log.Warn(log.CatConfig, "tracing shutdown failed", "error", err)
	}
}

// chatIDs lists the chats configured in config.json, sorted ascending.
func (e *engine) chatIDs() []int64 {
	cfg := e.conf.Snapshot()
	ids := make([]int64, 0, len(cfg.Chats))
	for key := range cfg.Chats {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			log.Warn(log.CatConfig, "ignoring malformed chat id in config", "key", key)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// defaultChatID is where chat-less observer results (scheduled cron
// runs) are announced. Falls back to chat 0 when none are configured.
func (e *engine) defaultChatID() int64 {
	if ids := e.chatIDs(); len(ids) > 0 {
		return ids[0]
	}
	return 0
}

// staleProcessAge bounds how long a CLI process may live before the
// heartbeat reaper kills it: twice the per-run timeout.
func (e *engine) staleProcessAge() time.Duration {
	return 2 * e.conf.Snapshot().CLITimeout()
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		log.SetMinLevel(log.LevelDebug)
	case "warn":
		log.SetMinLevel(log.LevelWarn)
	case "error":
		log.SetMinLevel(log.LevelError)
	default:
		log.SetMinLevel(log.LevelInfo)
	}
}
