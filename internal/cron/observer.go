package cron

import (
	"context"
	"sync"
	"time"

	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/log"
)

// reloadPollInterval is how often the jobs file is checked for external
// edits. Polling by mtime is deliberate: editors that write-and-rename
// break naive inotify watches.
const reloadPollInterval = 5 * time.Second

// Observer owns the per-job timers. Each enabled job gets a goroutine
// that sleeps until the next cron fire in the job's timezone, runs it,
// and reschedules. External file edits rebuild the whole timer set.
type Observer struct {
	manager  *Manager
	runner   *Runner
	conf     *config.Store
	onResult func(Result)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex // serializes reschedules
	genCancel context.CancelFunc
	genWG     *sync.WaitGroup

	now func() time.Time
}

func NewObserver(manager *Manager, runner *Runner, conf *config.Store, onResult func(Result)) *Observer {
	return &Observer{
		manager:  manager,
		runner:   runner,
		conf:     conf,
		onResult: onResult,
		now:      time.Now,
	}
}

// Start schedules all enabled jobs and begins watching the jobs file.
func (o *Observer) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.reschedule()

	o.wg.Add(1)
	go o.watchFile()
}

// Stop cancels every timer and waits for in-flight runs.
func (o *Observer) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Lock()
	gen := o.genWG
	o.mu.Unlock()
	if gen != nil {
		gen.Wait()
	}
	o.wg.Wait()
}

// Reschedule rebuilds all job timers, used after CRUD through the
// manager (file edits are picked up automatically).
func (o *Observer) Reschedule() {
	o.reschedule()
}

func (o *Observer) watchFile() {
	defer o.wg.Done()

	ticker := time.NewTicker(reloadPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if o.manager.ReloadIfChanged() {
				o.reschedule()
			}
		}
	}
}

// reschedule cancels the current generation of job goroutines, waits
// them out, and spawns a fresh set from the manager's current jobs.
func (o *Observer) reschedule() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.genCancel != nil {
		o.genCancel()
		o.genWG.Wait()
	}

	genCtx, cancel := context.WithCancel(o.ctx)
	wg := &sync.WaitGroup{}
	o.genCancel = cancel
	o.genWG = wg

	jobs := o.manager.Jobs()
	scheduled := 0
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		scheduled++
		wg.Add(1)
		go o.runJobLoop(genCtx, wg, job.Name)
	}
	log.Info(log.CatCron, "cron jobs scheduled", "enabled", scheduled, "total", len(jobs))
}

func (o *Observer) runJobLoop(ctx context.Context, wg *sync.WaitGroup, name string) {
	defer wg.Done()

	for {
		job, ok := o.manager.Get(name)
		if !ok || !job.Enabled {
			return
		}

		next := job.Next(o.now(), o.location(job))
		if next.IsZero() {
			log.Error(log.CatCron, "unschedulable cron job", "job", name, "schedule", job.Schedule)
			return
		}
		delay := next.Sub(o.now())
		if delay < 0 {
			delay = 0
		}
		log.Debug(log.CatCron, "cron job sleeping", "job", name, "next", next, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		current, ok := o.manager.Get(name)
		if !ok || !current.Enabled {
			return
		}
		res := o.runner.Run(ctx, current)
		if o.onResult != nil && !res.Skipped {
			o.onResult(res)
		}
	}
}

// location resolves the job's timezone, falling back through the
// configured timezone chain.
func (o *Observer) location(job Job) *time.Location {
	if job.Timezone != "" {
		if loc, err := time.LoadLocation(job.Timezone); err == nil {
			return loc
		}
		log.Warn(log.CatCron, "invalid cron job timezone", "job", job.Name, "timezone", job.Timezone)
	}
	return config.ResolveLocation(o.conf.Snapshot().Timezone)
}
