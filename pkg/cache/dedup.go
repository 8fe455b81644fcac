package cache

import (
	"sync"
	"time"
)

// DedupCache is a bounded, time-expiring map from message id to a
// "finalized" flag. Every terminal-event handler consults it before touching
// a task, which makes the terminal transition at-most-once per message id
// even when the upstream redelivers or several handlers match the same event.
//
// The cache is injected into the components that need it rather than living
// as a process-wide static.
type DedupCache struct {
	mu      sync.Mutex
	entries map[string]dedupEntry
	ttl     time.Duration
	max     int
	now     func() time.Time
}

type dedupEntry struct {
	finalized bool
	seenAt    time.Time
}

const (
	defaultTTL        = 30 * time.Minute
	defaultMaxEntries = 10000
)

func NewDedup(ttl time.Duration, maxEntries int) *DedupCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &DedupCache{
		entries: make(map[string]dedupEntry),
		ttl:     ttl,
		max:     maxEntries,
		now:     time.Now,
	}
}

// Finalized reports whether the message id has already gone through a
// terminal transition.
func (c *DedupCache) Finalized(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[messageID]
	if !ok {
		return false
	}
	if c.now().Sub(e.seenAt) > c.ttl {
		delete(c.entries, messageID)
		return false
	}
	return e.finalized
}

// MarkProgress records that the message id was seen in a non-terminal event.
func (c *DedupCache) MarkProgress(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[messageID]; ok && e.finalized {
		return
	}
	c.entries[messageID] = dedupEntry{finalized: false, seenAt: c.now()}
	c.pruneLocked()
}

// MarkFinalized flips the flag for the message id and reports whether this
// call won the transition. The second caller for the same id gets false and
// must treat the event as already processed.
func (c *DedupCache) MarkFinalized(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[messageID]; ok && e.finalized {
		if c.now().Sub(e.seenAt) <= c.ttl {
			return false
		}
	}
	c.entries[messageID] = dedupEntry{finalized: true, seenAt: c.now()}
	c.pruneLocked()
	return true
}

// Len is for tests and diagnostics.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// pruneLocked drops expired entries, and if the map is still over its cap,
// the oldest half. Same size-capped cleanup the channel dedup maps use.
func (c *DedupCache) pruneLocked() {
	if len(c.entries) <= c.max {
		return
	}
	cutoff := c.now().Add(-c.ttl)
	for id, e := range c.entries {
		if e.seenAt.Before(cutoff) {
			delete(c.entries, id)
		}
	}
	if len(c.entries) <= c.max {
		return
	}
	drop := len(c.entries) / 2
	for id := range c.entries {
		if drop == 0 {
			break
		}
		delete(c.entries, id)
		drop--
	}
}
