// Package ingest turns upstream provider events into pending recordings
// and meetings, with strict four-layer deduplication, participant
// enrichment from the extension directory, and per-employee notetaker
// syncs over encrypted credentials.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// cacheWindow is how far back known recording ids are loaded on warm-up.
const cacheWindow = 30 * 24 * time.Hour

// DaySyncer discovers and queues one calendar day's items.
type DaySyncer interface {
	SyncDay(ctx context.Context, day time.Time) (int, error)
}

// Composite fans one day's sync across several adapters. A failing adapter
// does not stop the others; errors are joined.
type Composite struct {
	syncers []DaySyncer
}

// NewComposite combines adapters into one DaySyncer.
func NewComposite(syncers ...DaySyncer) *Composite {
	return &Composite{syncers: syncers}
}

// SyncDay runs every adapter for the day and sums the queued counts.
func (c *Composite) SyncDay(ctx context.Context, day time.Time) (int, error) {
	total := 0
	var errs []error
	for _, s := range c.syncers {
		n, err := s.SyncDay(ctx, day)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// KnownIDLister loads recently seen recording ids. *store.Store satisfies it.
type KnownIDLister interface {
	KnownRecordingIDs(ctx context.Context, cutoff time.Time) ([]string, error)
}

// IDCache is the advisory in-memory set of known recording ids. It spares
// the DB the obvious-duplicate lookups on the hot path; the store's dedup
// checks remain authoritative.
type IDCache struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIDCache returns an empty cache.
func NewIDCache() *IDCache {
	return &IDCache{ids: make(map[string]struct{})}
}

// Warm loads the last 30 days of known ids.
func (c *IDCache) Warm(ctx context.Context, st KnownIDLister) error {
	ids, err := st.KnownRecordingIDs(ctx, time.Now().Add(-cacheWindow))
	if err != nil {
		return fmt.Errorf("ingest: warm id cache: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
	return nil
}

// Contains reports whether id is known. A false answer proves nothing; a
// true answer is trusted.
func (c *IDCache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

// Add records a newly queued id.
func (c *IDCache) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[id] = struct{}{}
}

// Len returns the number of cached ids.
func (c *IDCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
