package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ductor/ductor/internal/atomicfile"
	"github.com/ductor/ductor/internal/log"
)

// Manager owns cron_jobs.json: job CRUD, last-run bookkeeping, and
// external-edit detection via file mtime.
type Manager struct {
	path string

	mu    sync.Mutex
	jobs  map[string]*Job
	mtime time.Time // baseline; our own writes refresh it
}

// NewManager loads the jobs file. A missing file yields an empty set; a
// corrupt file is logged and treated as empty rather than failing startup.
func NewManager(path string) *Manager {
	m := &Manager{path: path, jobs: make(map[string]*Job)}
	m.mu.Lock()
	m.loadLocked()
	m.mu.Unlock()
	return m
}

type jobsFile struct {
	Jobs map[string]*Job `json:"jobs"`
}

// Jobs returns all jobs sorted by name.
func (m *Manager) Jobs() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Get returns the named job.
func (m *Manager) Get(name string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return Job{}, false
	}
	return j.Clone(), true
}

// Put validates and stores a job, creating or replacing by name.
func (m *Manager) Put(job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := job.Clone()
	m.jobs[job.Name] = &stored
	return m.saveLocked()
}

// Delete removes the named job.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[name]; !ok {
		return fmt.Errorf("cron job %q not found", name)
	}
	delete(m.jobs, name)
	return m.saveLocked()
}

// SetEnabled toggles a job without touching anything else.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("cron job %q not found", name)
	}
	j.Enabled = enabled
	return m.saveLocked()
}

// RecordRun persists the outcome of one execution and refreshes the
// mtime baseline so the observer's poll does not mistake our own write
// for a user edit.
func (m *Manager) RecordRun(name string, at time.Time, status string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("cron job %q not found", name)
	}
	ts := at.UTC()
	j.LastRunAt = &ts
	j.LastRunStatus = status
	j.LastRunDurationMS = duration.Milliseconds()
	return m.saveLocked()
}

// ReloadIfChanged re-reads the file when its mtime moved past the
// baseline. Returns true when the job set was reloaded.
func (m *Manager) ReloadIfChanged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.path)
	if err != nil {
		return false
	}
	if !info.ModTime().After(m.mtime) {
		return false
	}

	before := len(m.jobs)
	m.loadLocked()
	log.Info(log.CatCron, "cron jobs file changed on disk",
		"jobs_before", before, "jobs_after", len(m.jobs))
	return true
}

func (m *Manager) loadLocked() {
	m.jobs = make(map[string]*Job)

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn(log.CatCron, "cannot read cron jobs file", "path", m.path, "error", err)
		}
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.mtime = info.ModTime()
	}

	var f jobsFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn(log.CatCron, "corrupt cron jobs file, starting empty", "path", m.path, "error", err)
		return
	}
	for name, j := range f.Jobs {
		if j == nil {
			continue
		}
		if j.Name == "" {
			j.Name = name
		}
		m.jobs[name] = j
	}
}

func (m *Manager) saveLocked() error {
	if err := atomicfile.WriteJSON(m.path, jobsFile{Jobs: m.jobs}); err != nil {
		return fmt.Errorf("saving cron jobs: %w", err)
	}
	if info, err := os.Stat(m.path); err == nil {
		m.mtime = info.ModTime()
	}
	return nil
}
