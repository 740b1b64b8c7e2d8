package cron

import (
	"context"
	"sync"
)

// DependencyQueue serializes jobs sharing a dependency key in arrival
// order. Jobs with distinct keys (or none) run in parallel.
type DependencyQueue struct {
	mu    sync.Mutex
	slots map[string]*depSlot
}

type depSlot struct {
	busy    bool
	waiters []chan struct{}
}

func NewDependencyQueue() *DependencyQueue {
	return &DependencyQueue{slots: make(map[string]*depSlot)}
}

// Acquire blocks until the key is free. An empty key never blocks.
// Callers must Release with the same key after the work completes.
func (q *DependencyQueue) Acquire(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	q.mu.Lock()
	s := q.slots[key]
	if s == nil {
		s = &depSlot{}
		q.slots[key] = s
	}
	if !s.busy {
		s.busy = true
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, w := range s.waiters {
			if w == ch {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				q.mu.Unlock()
				return ctx.Err()
			}
		}
		q.mu.Unlock()
		// The slot was handed to us between ctx firing and the removal
		// attempt; pass it on.
		q.Release(key)
		return ctx.Err()
	}
}

// Release hands the key to the next waiter, or frees it.
func (q *DependencyQueue) Release(key string) {
	if key == "" {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.slots[key]
	if s == nil {
		return
	}
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}
	s.busy = false
	delete(q.slots, key)
}

// Waiting returns the number of jobs queued behind each held key, for
// diagnostics.
func (q *DependencyQueue) Waiting() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.slots))
	for key, s := range q.slots {
		out[key] = len(s.waiters)
	}
	return out
}
