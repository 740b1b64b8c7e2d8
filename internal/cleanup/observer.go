// Package cleanup removes old files from the downloads and outputs
// directories once per day.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/log"
	"github.com/ductor/ductor/internal/paths"
)

const checkInterval = time.Hour

// Observer wakes hourly and, at the configured check hour, deletes
// top-level files past their age limit. Subdirectories are left alone.
type Observer struct {
	conf *config.Store
	home paths.Home

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	interval time.Duration // overrides checkInterval, for tests
	now      func() time.Time

	mu          sync.Mutex
	lastRunDate string // YYYY-MM-DD in the user timezone
}

func NewObserver(conf *config.Store, home paths.Home) *Observer {
	return &Observer{conf: conf, home: home, now: time.Now}
}

// Start launches the loop. A disabled config is not an error; the
// observer just stays idle.
func (o *Observer) Start(ctx context.Context) {
	cfg := o.conf.Snapshot()
	if !cfg.Cleanup.Enabled {
		log.Info(log.CatCleanup, "file cleanup disabled in config")
		return
	}

	o.ctx, o.cancel = context.WithCancel(ctx)
	o.wg.Add(1)
	go o.loop()
	log.Info(log.CatCleanup, "file cleanup started",
		"downloads_max_age_days", cfg.Cleanup.DownloadsMaxAgeDays,
		"outputs_max_age_days", cfg.Cleanup.OutputsMaxAgeDays,
		"check_hour", cfg.Cleanup.CheckHour)
}

// Stop cancels the loop and waits for an in-flight sweep.
func (o *Observer) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	o.wg.Wait()
	log.Info(log.CatCleanup, "file cleanup stopped")
}

func (o *Observer) loop() {
	defer o.wg.Done()

	interval := o.interval
	if interval == 0 {
		interval = checkInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.maybeRun()
		}
	}
}

// maybeRun sweeps when the current hour matches the check hour and
// nothing ran today yet.
func (o *Observer) maybeRun() {
	cfg := o.conf.Snapshot()
	loc := config.ResolveLocation(cfg.Timezone)
	now := o.now().In(loc)
	today := now.Format("2006-01-02")

	o.mu.Lock()
	due := now.Hour() == cfg.Cleanup.CheckHour && o.lastRunDate != today
	if due {
		o.lastRunDate = today
	}
	o.mu.Unlock()
	if !due {
		return
	}

	downloads := o.sweep(o.home.DownloadsDir(), cfg.Cleanup.DownloadsMaxAgeDays)
	outputs := o.sweep(o.home.OutputsDir(), cfg.Cleanup.OutputsMaxAgeDays)
	if downloads > 0 || outputs > 0 {
		log.Info(log.CatCleanup, "cleanup complete",
			"downloads_deleted", downloads, "outputs_deleted", outputs)
	} else {
		log.Debug(log.CatCleanup, "cleanup: nothing to delete")
	}
}

// sweep deletes top-level files older than maxAgeDays and returns the
// count. Per-file failures are logged and skipped.
func (o *Observer) sweep(dir string, maxAgeDays int) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	cutoff := o.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			log.Warn(log.CatCleanup, "cannot stat file", "path", path, "error", err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Warn(log.CatCleanup, "failed to delete file", "path", path, "error", err)
			continue
		}
		deleted++
	}
	return deleted
}
