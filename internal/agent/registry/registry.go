// Package registry tracks running provider CLI processes per chat so
// they can be aborted, reaped when stale, and counted for busy checks.
package registry

import (
	"sync"
	"syscall"
	"time"

	"github.com/ductor/ductor/internal/agent/client"
	"github.com/ductor/ductor/internal/log"
)

const (
	// termGrace is how long a process gets to exit after SIGTERM before
	// it is force-killed.
	termGrace = 2 * time.Second

	// reapTimeout bounds the final wait after SIGKILL so KillAll cannot
	// hang on an unreapable zombie.
	reapTimeout = 5 * time.Second
)

// TrackedProcess pairs a running process with its registration metadata.
type TrackedProcess struct {
	Process   client.HeadlessProcess
	Label     string
	StartedAt time.Time
}

// Age reports how long the process has been registered.
func (t *TrackedProcess) Age(now time.Time) time.Duration {
	return now.Sub(t.StartedAt)
}

// Registry is a thread-safe map of chat id to running processes, plus a
// per-chat abort flag. The abort flag is set by KillAll and survives the
// kill so in-flight flows can notice the user interrupted them; callers
// clear it at the start of the next turn.
type Registry struct {
	mu      sync.Mutex
	procs   map[int64][]*TrackedProcess
	aborted map[int64]bool

	now func() time.Time
}

// New creates an empty process registry.
func New() *Registry {
	return &Registry{
		procs:   make(map[int64][]*TrackedProcess),
		aborted: make(map[int64]bool),
		now:     time.Now,
	}
}

// Register tracks a newly spawned process for a chat.
func (r *Registry) Register(chatID int64, proc client.HeadlessProcess, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[chatID] = append(r.procs[chatID], &TrackedProcess{
		Process:   proc,
		Label:     label,
		StartedAt: r.now(),
	})
	log.Debug(log.CatProc, "process registered",
		"chat_id", chatID, "label", label, "pid", proc.PID(),
		"active", len(r.procs[chatID]))
}

// Unregister removes a process after it exits. Unknown processes are
// ignored so double unregistration is harmless.
func (r *Registry) Unregister(chatID int64, proc client.HeadlessProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.procs[chatID]
	kept := entries[:0]
	for _, e := range entries {
		if e.Process != proc {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.procs, chatID)
		return
	}
	r.procs[chatID] = kept
}

// HasActive reports whether the chat has any tracked processes.
func (r *Registry) HasActive(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs[chatID]) > 0
}

// ActiveCount returns the number of tracked processes for a chat.
func (r *Registry) ActiveCount(chatID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs[chatID])
}

// ActiveLabels returns the labels of the chat's tracked processes.
func (r *Registry) ActiveLabels(chatID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	labels := make([]string, 0, len(r.procs[chatID]))
	for _, e := range r.procs[chatID] {
		labels = append(labels, e.Label)
	}
	return labels
}

// WasAborted reports whether KillAll has run for the chat since the
// last ClearAbort.
func (r *Registry) WasAborted(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted[chatID]
}

// ClearAbort resets the chat's abort flag. Called at the start of each
// user turn.
func (r *Registry) ClearAbort(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.aborted, chatID)
}

// KillAll terminates every tracked process for a chat and sets its
// abort flag. Processes get SIGTERM first, a grace period to exit, then
// SIGKILL with a bounded reap. Returns the number of processes
// signalled.
func (r *Registry) KillAll(chatID int64) int {
	r.mu.Lock()
	r.aborted[chatID] = true
	entries := r.procs[chatID]
	delete(r.procs, chatID)
	r.mu.Unlock()

	if len(entries) == 0 {
		return 0
	}

	log.Info(log.CatProc, "killing all processes", "chat_id", chatID, "count", len(entries))
	for _, e := range entries {
		if err := e.Process.Signal(syscall.SIGTERM); err != nil {
			log.Debug(log.CatProc, "sigterm failed (process likely gone)",
				"chat_id", chatID, "label", e.Label, "error", err)
		}
	}

	survivors := waitForExit(entries, termGrace)
	for _, e := range survivors {
		log.Warn(log.CatProc, "process survived sigterm, escalating",
			"chat_id", chatID, "label", e.Label, "pid", e.Process.PID())
		if err := e.Process.Signal(syscall.SIGKILL); err != nil {
			log.Debug(log.CatProc, "sigkill failed", "chat_id", chatID, "error", err)
		}
	}
	if len(survivors) > 0 {
		waitForExit(survivors, reapTimeout)
	}

	return len(entries)
}

// KillStale terminates processes older than maxAge across all chats.
// Catches runs orphaned by a system suspend, where the wall clock moved
// on but the timeout context did not fire. Returns the number killed.
func (r *Registry) KillStale(maxAge time.Duration) int {
	now := r.now()

	r.mu.Lock()
	var stale []*TrackedProcess
	for chatID, entries := range r.procs {
		kept := entries[:0]
		for _, e := range entries {
			if e.Age(now) > maxAge {
				stale = append(stale, e)
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.procs, chatID)
		} else {
			r.procs[chatID] = kept
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		log.Warn(log.CatProc, "killing stale process",
			"label", e.Label, "age", e.Age(now).Round(time.Second).String())
		if err := e.Process.Signal(syscall.SIGKILL); err != nil {
			log.Debug(log.CatProc, "stale sigkill failed", "error", err)
		}
	}
	if len(stale) > 0 {
		waitForExit(stale, reapTimeout)
	}
	return len(stale)
}

// waitForExit blocks until the given processes exit or the deadline
// passes, returning the ones still running.
func waitForExit(entries []*TrackedProcess, timeout time.Duration) []*TrackedProcess {
	deadline := time.After(timeout)
	exited := make(chan *TrackedProcess, len(entries))
	for _, e := range entries {
		go func(e *TrackedProcess) {
			_ = e.Process.Wait()
			exited <- e
		}(e)
	}

	remaining := make(map[*TrackedProcess]bool, len(entries))
	for _, e := range entries {
		remaining[e] = true
	}
	for len(remaining) > 0 {
		select {
		case e := <-exited:
			delete(remaining, e)
		case <-deadline:
			survivors := make([]*TrackedProcess, 0, len(remaining))
			for e := range remaining {
				survivors = append(survivors, e)
			}
			return survivors
		}
	}
	return nil
}
