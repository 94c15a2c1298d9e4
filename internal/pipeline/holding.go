package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/flowlineage/internal/event"
)

// Abandon reasons, used as the metrics label and the stored reason.
const (
	ReasonTTL         = "ttl_expired"
	ReasonMaxAttempts = "max_attempts"
	ReasonOverflow    = "holding_full"
	ReasonShutdown    = "shutdown"
)

// HoldingConfig bounds the holding area.
type HoldingConfig struct {
	// TTL is how long an event may stay parked.
	TTL time.Duration

	// MaxAttempts is the number of failed relinks before giving up.
	MaxAttempts int

	// MaxParked caps the number of parked events. When full, the oldest
	// is abandoned to make room.
	MaxParked int
}

type parkedEvent struct {
	ev       *event.Event
	parkedAt time.Time
	attempts int
	keys     []string
}

// holding indexes parked events by every unit id they reference, so a
// successful link can find the events that may now resolve.
type holding struct {
	mu      sync.Mutex
	cfg     HoldingConfig
	byEvent map[int64]*parkedEvent
	byID    map[string]map[int64]struct{}
}

func newHolding(cfg HoldingConfig) *holding {
	return &holding{
		cfg:     cfg,
		byEvent: make(map[int64]*parkedEvent),
		byID:    make(map[string]map[int64]struct{}),
	}
}

// referencedIDs lists the unit ids an event touches.
func referencedIDs(ev *event.Event) []string {
	seen := make(map[string]struct{}, 1+len(ev.ParentIDs)+len(ev.ChildIDs))
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(ev.FlowUnitID)
	for _, id := range ev.ParentIDs {
		add(id)
	}
	for _, id := range ev.ChildIDs {
		add(id)
	}
	return out
}

// put parks p. If the area is full the oldest parked event is evicted and
// returned.
func (h *holding) put(p *parkedEvent) (evicted *parkedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.byEvent[p.ev.EventID]; ok {
		return nil
	}
	if h.cfg.MaxParked > 0 && len(h.byEvent) >= h.cfg.MaxParked {
		evicted = h.oldestLocked()
		if evicted != nil {
			h.removeLocked(evicted)
		}
	}
	if p.keys == nil {
		p.keys = referencedIDs(p.ev)
	}
	h.byEvent[p.ev.EventID] = p
	for _, id := range p.keys {
		waiting, ok := h.byID[id]
		if !ok {
			waiting = make(map[int64]struct{})
			h.byID[id] = waiting
		}
		waiting[p.ev.EventID] = struct{}{}
	}
	return evicted
}

// take removes and returns every parked event waiting on any of ids,
// ordered by parked time then event id.
func (h *holding) take(ids []string) []*parkedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*parkedEvent
	for _, id := range ids {
		for eventID := range h.byID[id] {
			p, ok := h.byEvent[eventID]
			if !ok {
				continue
			}
			h.removeLocked(p)
			out = append(out, p)
		}
	}
	sortParked(out)
	return out
}

// expired removes and returns events parked for at least the TTL.
func (h *holding) expired(now time.Time) []*parkedEvent {
	if h.cfg.TTL <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*parkedEvent
	for _, p := range h.byEvent {
		if now.Sub(p.parkedAt) >= h.cfg.TTL {
			out = append(out, p)
		}
	}
	for _, p := range out {
		h.removeLocked(p)
	}
	sortParked(out)
	return out
}

// takeAll empties the holding area.
func (h *holding) takeAll() []*parkedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*parkedEvent, 0, len(h.byEvent))
	for _, p := range h.byEvent {
		out = append(out, p)
	}
	h.byEvent = make(map[int64]*parkedEvent)
	h.byID = make(map[string]map[int64]struct{})
	sortParked(out)
	return out
}

func (h *holding) contains(eventID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.byEvent[eventID]
	return ok
}

func (h *holding) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byEvent)
}

func (h *holding) snapshot() []*event.Event {
	h.mu.Lock()
	parked := make([]*parkedEvent, 0, len(h.byEvent))
	for _, p := range h.byEvent {
		parked = append(parked, p)
	}
	h.mu.Unlock()

	sortParked(parked)
	out := make([]*event.Event, len(parked))
	for i, p := range parked {
		out[i] = p.ev
	}
	return out
}

func (h *holding) oldestLocked() *parkedEvent {
	var oldest *parkedEvent
	for _, p := range h.byEvent {
		if oldest == nil || before(p, oldest) {
			oldest = p
		}
	}
	return oldest
}

func (h *holding) removeLocked(p *parkedEvent) {
	delete(h.byEvent, p.ev.EventID)
	for _, id := range p.keys {
		waiting := h.byID[id]
		delete(waiting, p.ev.EventID)
		if len(waiting) == 0 {
			delete(h.byID, id)
		}
	}
}

func before(a, b *parkedEvent) bool {
	if !a.parkedAt.Equal(b.parkedAt) {
		return a.parkedAt.Before(b.parkedAt)
	}
	return a.ev.EventID < b.ev.EventID
}

func sortParked(ps []*parkedEvent) {
	sort.Slice(ps, func(i, j int) bool { return before(ps[i], ps[j]) })
}
