package lineage

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/flowlineage/internal/event"
)

// Builder links provenance events into the ancestry graph held by a
// Registry and stamps each event with its job identity.
//
// Link is safe for concurrent use. Two events touching the same units
// serialize on the per-unit locks; no call holds more than one unit lock
// at a time, and lookups run with no lock held. Merging related roots is
// serialized by relateMu; no unit lock is held when it is taken.
type Builder struct {
	registry *Registry
	lookup   FeedLookup
	observer Observer
	relateMu sync.Mutex
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithObserver registers an observer for link outcomes.
func WithObserver(o Observer) BuilderOption {
	return func(b *Builder) {
		if o != nil {
			b.observer = o
		}
	}
}

// NewBuilder creates a builder over registry. A nil lookup behaves like
// NopLookup.
func NewBuilder(registry *Registry, lookup FeedLookup, opts ...BuilderOption) *Builder {
	if lookup == nil {
		lookup = NopLookup{}
	}
	b := &Builder{
		registry: registry,
		lookup:   lookup,
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the registry the builder writes to.
func (b *Builder) Registry() *Registry {
	return b.registry
}

// Link records ev in the graph and stamps its derived job fields.
//
// The returned event is ev itself. On ErrCodeRootNotFound the graph edges
// from ev are still recorded, so a retry after the missing ancestor arrives
// resolves without relinking from scratch.
func (b *Builder) Link(ctx context.Context, ev *event.Event) (*event.Event, error) {
	return b.link(ctx, ev, false)
}

// Relink is Link for an event already reported as unresolved. A repeated
// root miss is logged at debug level and not reported to the observer.
func (b *Builder) Relink(ctx context.Context, ev *event.Event) (*event.Event, error) {
	return b.link(ctx, ev, true)
}

// Resolvable reports whether the unit id has a root, directly or through
// its recorded ancestors.
func (b *Builder) Resolvable(id string) bool {
	unit, ok := b.registry.Get(id)
	if !ok {
		return false
	}
	if unit.rootRef().id != "" {
		return true
	}
	return b.resolveFromAncestors(unit).id != ""
}

func (b *Builder) link(ctx context.Context, ev *event.Event, retry bool) (*event.Event, error) {
	unit := b.registry.GetOrCreate(ev.FlowUnitID)

	if ev.StartsJob() {
		if unit.markRoot(ev.EventID, ev.ComponentID) {
			slog.Debug("flow unit marked as job root",
				"flow_unit_id", unit.ID(),
				"event_id", ev.EventID,
			)
		}
		ev.IsStartOfJob = true
	}

	// Roots reached through this event's parents. A root parent counts as
	// its own root.
	collected := make(map[string]struct{})
	for _, pid := range ev.ParentIDs {
		if pid == "" || pid == unit.ID() {
			continue
		}
		parent := b.registry.GetOrCreate(pid)
		unit.addParent(pid)
		parent.addChild(unit.ID())

		ref := parent.rootRef()
		if ref.id == "" {
			continue
		}
		collected[ref.id] = struct{}{}
		unit.inheritRoot(ref)
	}

	var children []*FlowUnit
	for _, cid := range ev.ChildIDs {
		if cid == "" || cid == unit.ID() {
			continue
		}
		child := b.registry.GetOrCreate(cid)
		unit.addChild(cid)
		child.addParent(unit.ID())
		children = append(children, child)
	}

	ref := unit.rootRef()
	if ref.id == "" {
		ref = b.resolveFromAncestors(unit)
		unit.inheritRoot(ref)
	}

	if len(collected) > 0 {
		if ref.id != "" {
			collected[ref.id] = struct{}{}
		}
		closure := b.relateRoots(collected)
		ev.RelatedRootIDs = without(closure, ref.id)
	}

	if ref.id == "" {
		err := newRootNotFoundError(unit.ID(), ev.EventID, unit.ParentIDs())
		if retry {
			slog.Debug("job root still unresolved",
				"flow_unit_id", unit.ID(),
				"event_id", ev.EventID,
			)
			return ev, err
		}
		slog.Warn("unable to resolve job root",
			"flow_unit_id", unit.ID(),
			"event_id", ev.EventID,
			"event_type", ev.Type,
		)
		b.observer.RootNotFound(ev)
		return ev, err
	}

	root, _ := b.registry.Get(ref.id)
	b.trackActive(root, unit, children, ref)

	ev.ComponentName = b.lookup.ProcessorName(ctx, ev.ComponentID)
	if !b.lookup.AssignFeedInfo(ctx, unit) && !unit.HasFeedInfo() {
		err := newFeedAssignmentError(unit.ID(), ev.EventID, ev.ComponentID)
		slog.Warn("feed assignment failed",
			"flow_unit_id", unit.ID(),
			"event_id", ev.EventID,
			"error", err,
		)
		b.observer.FeedAssignmentFailed(ev)
	}
	ev.FeedName, ev.FeedProcessGroupID = unit.FeedInfo()
	ev.StreamHint = b.lookup.IsStream(ctx, ev)

	var firstEventID *int64
	if root != nil {
		firstEventID = root.FirstEventID()
	}
	if firstEventID == nil {
		slog.Warn("job root has no first event",
			"root_id", ref.id,
			"flow_unit_id", unit.ID(),
			"event_id", ev.EventID,
		)
	}
	ev.StampJob(ref.id, firstEventID)

	if ev.Type.IsCompletion() {
		unit.addCompletion(ev.EventID)
		if resolver, ok := b.lookup.(PreviousEventResolver); ok {
			if prev, found := resolver.PreviousEvent(ctx, ev); found {
				ev.PreviousEventID = &prev
			}
		}
	}

	if ev.Type.IsEnding() && root != nil {
		unit.markEnded()
		if unit != root {
			root.removeActiveChild(unit.ID())
		}
		if root.tryComplete() {
			ev.IsEndOfJob = true
			slog.Info("job complete",
				"root_id", ref.id,
				"event_id", ev.EventID,
			)
			b.observer.JobCompleted(ref.id)
		}
	}

	b.observer.EventLinked(ev)
	return ev, nil
}

// resolveFromAncestors walks parent edges breadth-first until it finds a
// unit with a resolved root. Cycles in malformed input terminate through
// the visited set.
func (b *Builder) resolveFromAncestors(unit *FlowUnit) rootRef {
	visited := map[string]struct{}{unit.ID(): {}}
	frontier := unit.ParentIDs()
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			ancestor, ok := b.registry.Get(id)
			if !ok {
				continue
			}
			if ref := ancestor.rootRef(); ref.id != "" {
				return ref
			}
			next = append(next, ancestor.ParentIDs()...)
		}
		frontier = next
	}
	return rootRef{}
}

// relateRoots merges the related sets of every root in ids so each member
// lists every other. Calls are serialized, so existing related sets are
// closed and one level of expansion reaches the full closure.
func (b *Builder) relateRoots(ids map[string]struct{}) map[string]struct{} {
	b.relateMu.Lock()
	defer b.relateMu.Unlock()

	closure := make(map[string]struct{}, len(ids))
	for id := range ids {
		closure[id] = struct{}{}
		if root, ok := b.registry.Get(id); ok {
			for _, rel := range root.RelatedRootIDs() {
				closure[rel] = struct{}{}
			}
		}
	}
	if len(closure) < 2 {
		return closure
	}
	for id := range closure {
		if root, ok := b.registry.Get(id); ok {
			root.addRelated(closure)
		}
	}
	return closure
}

// trackActive records unit and the children wired by the current event as
// in flight under root, adopting root for children that had none.
func (b *Builder) trackActive(root, unit *FlowUnit, children []*FlowUnit, ref rootRef) {
	if root == nil {
		return
	}
	if unit != root && !unit.Ended() {
		root.addActiveChild(unit.ID())
	}
	for _, child := range children {
		child.inheritRoot(ref)
		if child != root && !child.Ended() && child.RootID() == ref.id {
			root.addActiveChild(child.ID())
		}
	}
}

func without(set map[string]struct{}, skip string) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		if id != skip {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
