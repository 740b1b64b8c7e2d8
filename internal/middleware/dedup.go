// Package middleware guards the inbound message path: duplicate delivery
// suppression and strict per-chat FIFO dispatch with a cancellable queue.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ductor/ductor/internal/cachemanager"
)

const (
	dedupTTL        = 30 * time.Second
	dedupMaxEntries = 200
)

// DedupeCache suppresses redelivered messages. A hit refreshes the TTL, so
// a message hammered by retries stays suppressed as long as the retries
// keep coming.
type DedupeCache struct {
	mu    sync.Mutex
	cache *cachemanager.InMemoryCacheManager[string, struct{}]
	order []string // insertion order for oldest-first eviction
	ttl   time.Duration
	max   int
}

// NewDedupeCache returns a cache with the default TTL and size cap.
func NewDedupeCache() *DedupeCache {
	return NewDedupeCacheWith(dedupTTL, dedupMaxEntries)
}

// NewDedupeCacheWith returns a cache with explicit limits.
func NewDedupeCacheWith(ttl time.Duration, maxEntries int) *DedupeCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &DedupeCache{
		cache: cachemanager.NewInMemoryCacheManager[string, struct{}]("dedup", ttl, time.Minute),
		ttl:   ttl,
		max:   maxEntries,
	}
}

// DedupKey builds the cache key from the chat's native identifiers.
func DedupKey(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// IsDuplicate reports whether key was already seen within the TTL. The
// first sighting registers the key and returns false; sightings within
// the TTL return true and refresh the window.
func (d *DedupeCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx := context.Background()
	if _, ok := d.cache.GetWithRefresh(ctx, key, d.ttl); ok {
		d.moveToBack(key)
		return true
	}

	d.cache.Set(ctx, key, struct{}{}, d.ttl)
	d.order = append(d.order, key)
	d.prune(ctx)
	return false
}

// Size returns the number of live entries.
func (d *DedupeCache) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneExpired(context.Background())
	return len(d.order)
}

// Clear drops all entries.
func (d *DedupeCache) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.cache.Flush(context.Background())
	d.order = nil
}

func (d *DedupeCache) moveToBack(key string) {
	for i, k := range d.order {
		if k == key {
			d.order = append(append(d.order[:i:i], d.order[i+1:]...), key)
			return
		}
	}
	d.order = append(d.order, key)
}

// prune drops expired entries first, then enforces the size cap by
// evicting oldest-first.
func (d *DedupeCache) prune(ctx context.Context) {
	d.pruneExpired(ctx)
	for len(d.order) > d.max {
		oldest := d.order[0]
		d.order = d.order[1:]
		_ = d.cache.Delete(ctx, oldest)
	}
}

func (d *DedupeCache) pruneExpired(ctx context.Context) {
	live := d.order[:0]
	for _, k := range d.order {
		if _, ok := d.cache.Get(ctx, k); ok {
			live = append(live, k)
		}
	}
	d.order = live
}
