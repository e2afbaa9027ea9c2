// Package cache holds the most recent snapshot per service.
package cache

import (
	"sync"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

const DefaultTTL = 60 * time.Second

// Entry is a cached snapshot as seen by a reader. Age counts from the last
// successful poll, so a failing service keeps ageing.
type Entry struct {
	Snapshot       core.UsageSnapshot
	Age            time.Duration
	LastPollFailed bool
	Stale          bool
}

type record struct {
	snapshot    core.UsageSnapshot
	lastSuccess time.Time
	lastWrite   time.Time
	failed      bool
}

// Cache is safe for concurrent use. Reads never trigger polls.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[core.ServiceKind]record
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, now: time.Now, entries: make(map[core.ServiceKind]record)}
}

// SetClock replaces the time source; tests only.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Cache) Get(kind core.ServiceKind) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.entries[kind]
	if !ok {
		return Entry{}, false
	}
	return c.entryFor(rec), true
}

// Put stores a single result.
func (c *Cache) Put(snap core.UsageSnapshot) {
	c.PutBatch([]core.UsageSnapshot{snap})
}

// PutBatch stores a whole poll cycle under one lock, so readers see either
// the previous cycle or this one. A failed snapshot keeps the last successful
// values and carries the new error.
func (c *Cache) PutBatch(snaps []core.UsageSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, snap := range snaps {
		prev, had := c.entries[snap.ID]
		if !snap.Failed() {
			c.entries[snap.ID] = record{snapshot: snap, lastSuccess: now, lastWrite: now}
			continue
		}
		if had && !prev.lastSuccess.IsZero() {
			merged := prev.snapshot
			merged.Error = snap.Error
			merged.LastUpdated = snap.LastUpdated
			c.entries[snap.ID] = record{snapshot: merged, lastSuccess: prev.lastSuccess, lastWrite: now, failed: true}
			continue
		}
		c.entries[snap.ID] = record{snapshot: snap, lastWrite: now, failed: true}
	}
}

// LastKnownPercentage returns the most recent successful percentage.
func (c *Cache) LastKnownPercentage(kind core.ServiceKind) *float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.entries[kind]
	if !ok || rec.lastSuccess.IsZero() || rec.snapshot.Percentage == nil {
		return nil
	}
	v := *rec.snapshot.Percentage
	return &v
}

// Delete drops a service, e.g. after it was disabled.
func (c *Cache) Delete(kind core.ServiceKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, kind)
}

func (c *Cache) entryFor(rec record) Entry {
	now := c.now()
	ref := rec.lastSuccess
	if ref.IsZero() {
		ref = rec.lastWrite
	}
	age := max(0, now.Sub(ref))
	return Entry{
		Snapshot:       rec.snapshot,
		Age:            age,
		LastPollFailed: rec.failed,
		Stale:          age >= c.ttl,
	}
}
