package lineage

import (
	"context"

	"github.com/roach88/flowlineage/internal/event"
)

// FeedLookup resolves component and feed metadata while events are linked.
//
// Implementations may block on I/O. The builder never holds a unit lock
// while calling into a lookup.
type FeedLookup interface {
	// ProcessorName returns the display name for a component, or "".
	ProcessorName(ctx context.Context, componentID string) string

	// AssignFeedInfo attaches feed name and process group to unit via
	// FlowUnit.AssignFeedInfo. Returns false if no feed is known.
	AssignFeedInfo(ctx context.Context, unit *FlowUnit) bool

	// IsStream reports whether the event's feed is declared streaming.
	IsStream(ctx context.Context, ev *event.Event) bool
}

// PreviousEventResolver is implemented by lookups that can name the
// event emitted before ev on the same unit. Optional: the builder checks
// for it with a type assertion.
type PreviousEventResolver interface {
	PreviousEvent(ctx context.Context, ev *event.Event) (int64, bool)
}

// NopLookup knows nothing. Every event fails feed assignment.
type NopLookup struct{}

func (NopLookup) ProcessorName(context.Context, string) string { return "" }
func (NopLookup) AssignFeedInfo(context.Context, *FlowUnit) bool { return false }
func (NopLookup) IsStream(context.Context, *event.Event) bool { return false }

// Observer receives notifications as the builder links events.
type Observer interface {
	EventLinked(ev *event.Event)
	RootNotFound(ev *event.Event)
	FeedAssignmentFailed(ev *event.Event)
	JobCompleted(rootID string)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) EventLinked(*event.Event) {}
func (NopObserver) RootNotFound(*event.Event) {}
func (NopObserver) FeedAssignmentFailed(*event.Event) {}
func (NopObserver) JobCompleted(string) {}
