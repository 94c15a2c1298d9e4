package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roach88/flowlineage/internal/event"
)

var (
	// ErrQueueClosed is returned when enqueueing after Close.
	ErrQueueClosed = errors.New("batch: queue closed")

	// ErrCapacityExceeded is returned by TryEnqueue when the queue is full.
	ErrCapacityExceeded = errors.New("batch: queue capacity exceeded")
)

type entry struct {
	ev        *event.Event
	releaseAt time.Time
}

// DelayedQueue buffers events for a fixed delay before releasing them as a
// cohort.
//
// Producers enqueue from any goroutine. A single consumer calls Drain,
// typically on a ticker and whenever Wait signals. Each enqueued event is
// returned by exactly one Drain (or DrainAll), in arrival order.
type DelayedQueue struct {
	mu       sync.Mutex
	entries  []entry
	delay    time.Duration
	capacity int
	clock    Clock
	closed   bool

	signal chan struct{} // Signals arrival (buffered, size 1)
	space  chan struct{} // Closed when space frees up; replaced after each broadcast
}

// Option configures a DelayedQueue.
type Option func(*DelayedQueue)

// WithClock overrides the clock used to compute release times.
func WithClock(c Clock) Option {
	return func(q *DelayedQueue) {
		if c != nil {
			q.clock = c
		}
	}
}

// NewDelayedQueue creates a queue that holds each event for delay.
// A capacity of zero or less means unbounded.
func NewDelayedQueue(delay time.Duration, capacity int, opts ...Option) *DelayedQueue {
	q := &DelayedQueue{
		entries:  make([]entry, 0, 64),
		delay:    delay,
		capacity: capacity,
		clock:    SystemClock{},
		signal:   make(chan struct{}, 1),
		space:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Delay returns the configured hold time.
func (q *DelayedQueue) Delay() time.Duration {
	return q.delay
}

// Enqueue adds ev to the back of the queue. When the queue is full it
// blocks until space frees up, ctx is done, or the queue is closed.
func (q *DelayedQueue) Enqueue(ctx context.Context, ev *event.Event) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if !q.fullLocked() {
			q.pushLocked(ev)
			q.mu.Unlock()
			return nil
		}
		space := q.space
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-space:
		}
	}
}

// TryEnqueue adds ev without blocking. Returns ErrCapacityExceeded when the
// queue is full.
func (q *DelayedQueue) TryEnqueue(ev *event.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.fullLocked() {
		return ErrCapacityExceeded
	}
	q.pushLocked(ev)
	return nil
}

// Drain removes and returns every event whose release time has passed,
// in arrival order. Returns nil when nothing is due.
func (q *DelayedQueue) Drain() []*event.Event {
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*event.Event
	kept := q.entries[:0]
	for _, e := range q.entries {
		if !e.releaseAt.After(now) {
			out = append(out, e.ev)
			continue
		}
		kept = append(kept, e)
	}
	// Nil out the tail so drained events can be collected.
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = entry{}
	}
	q.entries = kept

	if len(out) > 0 {
		q.broadcastSpaceLocked()
	}
	return out
}

// DrainAll removes and returns every event regardless of release time.
// Used at shutdown.
func (q *DelayedQueue) DrainAll() []*event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	out := make([]*event.Event, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.ev
		q.entries[i] = entry{}
	}
	q.entries = q.entries[:0]
	q.broadcastSpaceLocked()
	return out
}

// NextRelease returns the earliest pending release time.
func (q *DelayedQueue) NextRelease() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	next := q.entries[0].releaseAt
	for _, e := range q.entries[1:] {
		if e.releaseAt.Before(next) {
			next = e.releaseAt
		}
	}
	return next, true
}

// Wait returns a channel that signals when events may have arrived.
// The channel is closed by Close.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Drain
//	}
func (q *DelayedQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of buffered events.
func (q *DelayedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Closed reports whether Close has been called.
func (q *DelayedQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting events and wakes every waiter. Buffered events
// stay in the queue for DrainAll.
func (q *DelayedQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
	q.broadcastSpaceLocked()
}

func (q *DelayedQueue) fullLocked() bool {
	return q.capacity > 0 && len(q.entries) >= q.capacity
}

func (q *DelayedQueue) pushLocked(ev *event.Event) {
	q.entries = append(q.entries, entry{ev: ev, releaseAt: q.clock.Now().Add(q.delay)})

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *DelayedQueue) broadcastSpaceLocked() {
	close(q.space)
	q.space = make(chan struct{})
}
