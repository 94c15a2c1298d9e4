package feeds

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/flowlineage/internal/event"
	"github.com/roach88/flowlineage/internal/lineage"
)

// Caching memoizes processor names from an inner lookup. Concurrent misses
// for the same component collapse into one call to the inner lookup.
//
// Feed assignment and stream checks pass straight through: they are keyed
// by unit and event, not by component.
type Caching struct {
	inner  lineage.FeedLookup
	flight singleflight.Group

	mu    sync.RWMutex
	names map[string]string
}

var (
	_ lineage.FeedLookup            = (*Caching)(nil)
	_ lineage.PreviousEventResolver = (*Caching)(nil)
)

// NewCaching wraps inner.
func NewCaching(inner lineage.FeedLookup) *Caching {
	return &Caching{
		inner: inner,
		names: make(map[string]string),
	}
}

// ProcessorName implements lineage.FeedLookup.
func (c *Caching) ProcessorName(ctx context.Context, componentID string) string {
	c.mu.RLock()
	name, ok := c.names[componentID]
	c.mu.RUnlock()
	if ok {
		return name
	}

	v, _, _ := c.flight.Do(componentID, func() (interface{}, error) {
		c.mu.RLock()
		name, ok := c.names[componentID]
		c.mu.RUnlock()
		if ok {
			return name, nil
		}
		name = c.inner.ProcessorName(ctx, componentID)
		c.mu.Lock()
		c.names[componentID] = name
		c.mu.Unlock()
		return name, nil
	})
	return v.(string)
}

// AssignFeedInfo implements lineage.FeedLookup.
func (c *Caching) AssignFeedInfo(ctx context.Context, unit *lineage.FlowUnit) bool {
	return c.inner.AssignFeedInfo(ctx, unit)
}

// IsStream implements lineage.FeedLookup.
func (c *Caching) IsStream(ctx context.Context, ev *event.Event) bool {
	return c.inner.IsStream(ctx, ev)
}

// PreviousEvent forwards to the inner lookup when it can resolve previous
// events.
func (c *Caching) PreviousEvent(ctx context.Context, ev *event.Event) (int64, bool) {
	if r, ok := c.inner.(lineage.PreviousEventResolver); ok {
		return r.PreviousEvent(ctx, ev)
	}
	return 0, false
}

// Cached returns the number of memoized processor names.
func (c *Caching) Cached() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}
