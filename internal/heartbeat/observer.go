// Package heartbeat runs periodic background agent turns in each chat's
// main session so the agent can surface anything that needs attention
// between real messages.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/tracing"
)

// HeartbeatFunc executes one heartbeat turn and returns the alert text,
// or "" when there is nothing to report.
type HeartbeatFunc func(ctx context.Context, chatID int64) (string, error)

// Observer drives the heartbeat loop. All capabilities are injected:
// the chat lister peeks at known sessions, the handler runs the
// orchestrator's heartbeat flow, the busy check consults the process
// registry, and the reaper kills stale CLI processes.
type Observer struct {
	conf *config.Store

	listChats func() []int64
	handle    HeartbeatFunc
	busy      func(chatID int64) bool
	reapStale func() int
	onResult  func(chatID int64, alert string)

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	interval time.Duration // overrides config when set, for tests
	now      func() time.Time
}

func NewObserver(conf *config.Store, listChats func() []int64, handle HeartbeatFunc) *Observer {
	return &Observer{
		conf:      conf,
		listChats: listChats,
		handle:    handle,
		now:       time.Now,
	}
}

// SetBusyCheck sets the function that reports whether a chat has an
// active CLI process.
func (o *Observer) SetBusyCheck(busy func(chatID int64) bool) {
	o.busy = busy
}

// SetStaleReaper sets the function that kills stale CLI processes
// before each tick, catching suspend hangovers.
func (o *Observer) SetStaleReaper(reap func() int) {
	o.reapStale = reap
}

// SetResultHandler sets the callback for delivering alert text.
func (o *Observer) SetResultHandler(onResult func(chatID int64, alert string)) {
	o.onResult = onResult
}

// Start launches the loop. A disabled config is not an error; the
// observer just stays idle.
func (o *Observer) Start(ctx context.Context) {
	cfg := o.conf.Snapshot()
	if !cfg.Heartbeat.Enabled {
		log.Info(log.CatHeartbeat, "heartbeat disabled in config")
		return
	}
	if o.handle == nil {
		log.Error(log.CatHeartbeat, "heartbeat handler not set, cannot start")
		return
	}

	o.ctx, o.cancel = context.WithCancel(ctx)
	o.wg.Add(1)
	go o.loop()
	log.Info(log.CatHeartbeat, "heartbeat started",
		"interval_minutes", cfg.Heartbeat.IntervalMinutes,
		"quiet_start", cfg.Heartbeat.QuietStartHour,
		"quiet_end", cfg.Heartbeat.QuietEndHour)
}

// Stop cancels the loop and waits for an in-flight tick.
func (o *Observer) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	o.wg.Wait()
	log.Info(log.CatHeartbeat, "heartbeat stopped")
}

func (o *Observer) loop() {
	defer o.wg.Done()

	interval := o.interval
	if interval == 0 {
		interval = time.Duration(o.conf.Snapshot().Heartbeat.IntervalMinutes) * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastWall := o.now()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
		}

		// A wall-clock gap well past the interval means the machine
		// slept; the tick's view of the world is stale, so skip it.
		wall := o.now()
		gap := wall.Sub(lastWall)
		lastWall = wall
		if gap > 2*interval {
			log.Warn(log.CatHeartbeat, "wall-clock gap, system likely suspended; skipping tick",
				"gap_secs", int(gap.Seconds()), "interval_secs", int(interval.Seconds()))
			continue
		}

		o.tick(o.ctx)
	}
}

// tick runs one heartbeat cycle across all known chats.
func (o *Observer) tick(ctx context.Context) {
	if o.reapStale != nil {
		if killed := o.reapStale(); killed > 0 {
			log.Info(log.CatHeartbeat, "cleaned up stale processes", "killed", killed)
		}
	}

	cfg := o.conf.Snapshot()
	loc := config.ResolveLocation(cfg.Timezone)
	hour := o.now().In(loc).Hour()
	if config.InQuietWindow(hour, cfg.Heartbeat.QuietStartHour, cfg.Heartbeat.QuietEndHour) {
		log.Debug(log.CatHeartbeat, "heartbeat skipped for quiet hours", "hour", hour)
		return
	}

	chats := o.listChats()
	log.Debug(log.CatHeartbeat, "heartbeat tick", "chats", len(chats))
	for _, chatID := range chats {
		o.runForChat(ctx, chatID)
	}
}

func (o *Observer) runForChat(ctx context.Context, chatID int64) {
	if o.busy != nil && o.busy(chatID) {
		log.Debug(log.CatHeartbeat, "heartbeat skipped, chat is busy", "chat_id", chatID)
		return
	}

	ctx, span := tracing.StartJob(ctx, tracing.Tracer(), tracing.SpanHeartbeat,
		attribute.Int64(tracing.AttrChatID, chatID))

	alert, err := o.handle(ctx, chatID)
	tracing.EndJob(span, err)
	if err != nil {
		log.ErrorErr(log.CatHeartbeat, "heartbeat execution failed", err, "chat_id", chatID)
		return
	}
	if alert == "" {
		return
	}
	if o.onResult != nil {
		o.onResult(chatID, alert)
	}
}
