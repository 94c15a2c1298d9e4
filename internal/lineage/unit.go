package lineage

import (
	"sort"
	"sync"
)

// FlowUnit is one node of the ancestry graph.
//
// Edges are stored as id sets, never as pointers, so the graph can be
// evicted unit by unit without ownership cycles. Every field behind mu is a
// separate critical section: callers never hold two unit locks at once.
type FlowUnit struct {
	id string

	mu sync.Mutex

	// root is non-nil only for units that started a job.
	root *rootExt

	rootID          string
	originComponent string
	firstEventID    *int64

	completions   []int64
	completionSet map[int64]struct{}

	feedName           string
	feedProcessGroupID string

	parents  map[string]struct{}
	children map[string]struct{}

	ended bool
}

// rootExt holds the fields only a job root carries.
type rootExt struct {
	activeChildren map[string]struct{}
	related        map[string]struct{}
	completed      bool
}

// rootRef is the job identity a unit inherits from an ancestor.
type rootRef struct {
	id              string
	originComponent string
}

func newFlowUnit(id string) *FlowUnit {
	return &FlowUnit{
		id:            id,
		completionSet: make(map[int64]struct{}),
		parents:       make(map[string]struct{}),
		children:      make(map[string]struct{}),
	}
}

// ID returns the unit's immutable identifier.
func (u *FlowUnit) ID() string {
	return u.id
}

// IsRoot reports whether the unit started a job.
func (u *FlowUnit) IsRoot() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.root != nil
}

// RootID returns the id of the job root, or "" while unresolved.
func (u *FlowUnit) RootID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rootID
}

// OriginComponentID returns the component that emitted the job's first
// event. Feed lookups key on it.
func (u *FlowUnit) OriginComponentID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.originComponent
}

// FirstEventID returns the id of the event that started the job, for root
// units only.
func (u *FlowUnit) FirstEventID() *int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.firstEventID == nil {
		return nil
	}
	id := *u.firstEventID
	return &id
}

// ParentIDs returns the parent ids in sorted order.
func (u *FlowUnit) ParentIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return sortedKeys(u.parents)
}

// ChildIDs returns the child ids in sorted order.
func (u *FlowUnit) ChildIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return sortedKeys(u.children)
}

// HasParent reports whether id is a parent of the unit.
func (u *FlowUnit) HasParent(id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.parents[id]
	return ok
}

// HasChild reports whether id is a child of the unit.
func (u *FlowUnit) HasChild(id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.children[id]
	return ok
}

// CompletionEventIDs returns completion event ids in arrival order.
func (u *FlowUnit) CompletionEventIDs() []int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]int64, len(u.completions))
	copy(out, u.completions)
	return out
}

// FeedInfo returns the assigned feed name and process group id.
func (u *FlowUnit) FeedInfo() (name, processGroupID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.feedName, u.feedProcessGroupID
}

// HasFeedInfo reports whether feed metadata has been assigned.
func (u *FlowUnit) HasFeedInfo() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.feedName != ""
}

// AssignFeedInfo sets the feed metadata. The first assignment wins; later
// calls return false and leave the unit unchanged.
func (u *FlowUnit) AssignFeedInfo(name, processGroupID string) bool {
	if name == "" {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.feedName != "" {
		return false
	}
	u.feedName = name
	u.feedProcessGroupID = processGroupID
	return true
}

// RelatedRootIDs returns the roots whose jobs merged with this one.
// Empty for non-root units.
func (u *FlowUnit) RelatedRootIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.root == nil {
		return nil
	}
	return sortedKeys(u.root.related)
}

// ActiveChildIDs returns the units still in flight for this job.
// Empty for non-root units.
func (u *FlowUnit) ActiveChildIDs() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.root == nil {
		return nil
	}
	return sortedKeys(u.root.activeChildren)
}

// IsComplete reports whether the unit is a root whose job has finished.
func (u *FlowUnit) IsComplete() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.root != nil && u.root.completed
}

// Ended reports whether a DROP or EXPIRE event was seen for the unit.
func (u *FlowUnit) Ended() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ended
}

// markRoot turns the unit into a job root recording its first event.
// Returns false if the unit was already a root.
func (u *FlowUnit) markRoot(firstEventID int64, componentID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.root != nil {
		return false
	}
	u.root = &rootExt{
		activeChildren: make(map[string]struct{}),
		related:        make(map[string]struct{}),
	}
	id := firstEventID
	u.firstEventID = &id
	u.rootID = u.id
	u.originComponent = componentID
	return true
}

func (u *FlowUnit) rootRef() rootRef {
	u.mu.Lock()
	defer u.mu.Unlock()
	return rootRef{id: u.rootID, originComponent: u.originComponent}
}

// inheritRoot adopts ref if the unit has no root yet.
func (u *FlowUnit) inheritRoot(ref rootRef) bool {
	if ref.id == "" || ref.id == u.id {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.rootID != "" {
		return false
	}
	u.rootID = ref.id
	u.originComponent = ref.originComponent
	return true
}

func (u *FlowUnit) addParent(id string) bool {
	if id == u.id {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.parents[id]; ok {
		return false
	}
	u.parents[id] = struct{}{}
	return true
}

func (u *FlowUnit) addChild(id string) bool {
	if id == u.id {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.children[id]; ok {
		return false
	}
	u.children[id] = struct{}{}
	return true
}

func (u *FlowUnit) addCompletion(eventID int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.completionSet[eventID]; ok {
		return
	}
	u.completionSet[eventID] = struct{}{}
	u.completions = append(u.completions, eventID)
}

func (u *FlowUnit) markEnded() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ended = true
}

// addRelated records ids as related roots, skipping the unit itself.
func (u *FlowUnit) addRelated(ids map[string]struct{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.root == nil {
		return
	}
	for id := range ids {
		if id != u.id {
			u.root.related[id] = struct{}{}
		}
	}
}

func (u *FlowUnit) addActiveChild(id string) {
	if id == u.id {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.root == nil || u.root.completed {
		return
	}
	u.root.activeChildren[id] = struct{}{}
}

func (u *FlowUnit) removeActiveChild(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.root == nil {
		return
	}
	delete(u.root.activeChildren, id)
}

// tryComplete marks the job complete once the root has ended and no
// children remain active. Returns true only on the transition.
func (u *FlowUnit) tryComplete() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.root == nil || u.root.completed || !u.ended {
		return false
	}
	if len(u.root.activeChildren) > 0 {
		return false
	}
	u.root.completed = true
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
