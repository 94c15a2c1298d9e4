// Package dispatch forwards classified cohorts to downstream consumers.
package dispatch

import (
	"context"
	"time"

	"github.com/roach88/flowlineage/internal/classify"
	"github.com/roach88/flowlineage/internal/event"
)

// Batch is one released cohort after classification.
type Batch struct {
	CohortID   string    `json:"cohort_id"`
	Seq        int64     `json:"seq"`
	ReleasedAt time.Time `json:"released_at"`
	Groups     []Group   `json:"groups"`
}

// Group is the wire form of a classify.Group.
type Group struct {
	Feed        string         `json:"feed"`
	ComponentID string         `json:"component_id"`
	Label       classify.Label `json:"label"`
	Events      []*event.Event `json:"events"`
}

// NewBatch converts classifier output into a Batch.
func NewBatch(cohortID string, seq int64, releasedAt time.Time, groups []classify.Group) Batch {
	b := Batch{
		CohortID:   cohortID,
		Seq:        seq,
		ReleasedAt: releasedAt,
		Groups:     make([]Group, len(groups)),
	}
	for i, g := range groups {
		b.Groups[i] = Group{
			Feed:        g.Feed,
			ComponentID: g.ComponentID,
			Label:       g.Label,
			Events:      g.Events,
		}
	}
	return b
}

// Len returns the number of events in the batch.
func (b Batch) Len() int {
	n := 0
	for _, g := range b.Groups {
		n += len(g.Events)
	}
	return n
}

// Dispatcher delivers batches downstream. Implementations must be safe
// for use by a single consumer goroutine; delivery errors are reported to
// the caller, which logs and counts them.
type Dispatcher interface {
	Dispatch(ctx context.Context, b Batch) error
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, b Batch) error

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, b Batch) error {
	return f(ctx, b)
}

// Discard drops every batch.
var Discard Dispatcher = Func(func(context.Context, Batch) error { return nil })
