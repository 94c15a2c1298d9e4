package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/flowlineage/internal/batch"
	"github.com/roach88/flowlineage/internal/classify"
	"github.com/roach88/flowlineage/internal/dispatch"
	"github.com/roach88/flowlineage/internal/event"
	"github.com/roach88/flowlineage/internal/lineage"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("pipeline: closed")

// Config holds the pipeline's static settings.
type Config struct {
	// ProcessDelay is how long each event waits in the queue.
	ProcessDelay time.Duration

	// QueueCapacity bounds the queue; zero means unbounded.
	QueueCapacity int

	// DrainInterval is the consumer's tick period.
	DrainInterval time.Duration

	Classify classify.Config
	Holding  HoldingConfig

	// RetireCompleted evicts completed jobs from the registry after each
	// dispatched cohort.
	RetireCompleted bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ProcessDelay:  3 * time.Second,
		QueueCapacity: 10000,
		DrainInterval: 500 * time.Millisecond,
		Classify:      classify.DefaultConfig(),
		Holding: HoldingConfig{
			TTL:         10 * time.Minute,
			MaxAttempts: 20,
			MaxParked:   50000,
		},
		RetireCompleted: true,
	}
}

// ParkedStore mirrors the holding area. *store.Store satisfies it.
type ParkedStore interface {
	Park(ctx context.Context, ev *event.Event, reason string, at time.Time) error
	RecordAttempt(ctx context.Context, eventID int64, attempts int, at time.Time) error
	Resolve(ctx context.Context, eventID int64, at time.Time) error
	Abandon(ctx context.Context, eventID int64, reason string, at time.Time) error
}

// Pipeline links submitted events, holds them for the process delay,
// classifies each released cohort and dispatches it.
//
// Submit may be called from any number of goroutines. Exactly one
// goroutine should call Run; Flush and Close serialize with it.
type Pipeline struct {
	cfg        Config
	registry   *lineage.Registry
	builder    *lineage.Builder
	queue      *batch.DelayedQueue
	classifier *classify.Classifier
	dispatcher dispatch.Dispatcher
	holding    *holding
	store      ParkedStore
	metrics    *Metrics
	clock      batch.Clock
	ids        IDGenerator
	seq        *Sequence

	consumeMu sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the clock for queue release and holding expiry.
func WithClock(c batch.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithIDGenerator sets the cohort id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pipeline) { p.ids = g }
}

// WithMetrics sets the metrics object.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStore mirrors parked events into s.
func WithStore(s ParkedStore) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithRegistry links into an existing registry instead of a fresh one.
func WithRegistry(r *lineage.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// New creates a pipeline. A nil lookup behaves like lineage.NopLookup; a
// nil dispatcher discards batches.
func New(cfg Config, lookup lineage.FeedLookup, d dispatch.Dispatcher, opts ...Option) *Pipeline {
	if d == nil {
		d = dispatch.Discard
	}
	p := &Pipeline{
		cfg:        cfg,
		classifier: classify.New(cfg.Classify),
		dispatcher: d,
		holding:    newHolding(cfg.Holding),
		clock:      batch.SystemClock{},
		ids:        UUIDv7Generator{},
		seq:        &Sequence{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(prometheus.NewRegistry())
	}

	if p.registry == nil {
		p.registry = lineage.NewRegistry()
	}
	p.builder = lineage.NewBuilder(p.registry, lookup, lineage.WithObserver(p.metrics))
	p.queue = batch.NewDelayedQueue(cfg.ProcessDelay, cfg.QueueCapacity, batch.WithClock(p.clock))
	return p
}

// Registry returns the ancestry registry.
func (p *Pipeline) Registry() *lineage.Registry {
	return p.registry
}

// Metrics returns the pipeline's metrics object.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// QueueLen returns the number of events waiting for release.
func (p *Pipeline) QueueLen() int {
	return p.queue.Len()
}

// Parked returns the events currently held, oldest first.
func (p *Pipeline) Parked() []*event.Event {
	return p.holding.snapshot()
}

// IsParked reports whether the event is waiting in the holding area.
func (p *Pipeline) IsParked(eventID int64) bool {
	return p.holding.contains(eventID)
}

// Submit links ev and queues it for release.
//
// An event whose root cannot be resolved yet is parked rather than
// returned as an error, so one orphan never stalls the stream. Submit
// blocks while the queue is full.
func (p *Pipeline) Submit(ctx context.Context, ev *event.Event) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.metrics.eventsSubmitted.Inc()

	linked, err := p.builder.Link(ctx, ev)
	if err != nil {
		if lineage.IsRootNotFound(err) {
			p.park(ctx, ev, err)
			// The missing root may have linked between the failed link and
			// the park, after its retry pass looked for waiting events.
			if p.builder.Resolvable(ev.FlowUnitID) {
				return p.retryWaiting(ctx, ev)
			}
			return nil
		}
		return fmt.Errorf("link event %d: %w", ev.EventID, err)
	}

	if err := p.enqueue(ctx, linked); err != nil {
		return err
	}
	return p.retryWaiting(ctx, linked)
}

func (p *Pipeline) enqueue(ctx context.Context, ev *event.Event) error {
	if err := p.queue.Enqueue(ctx, ev); err != nil {
		if errors.Is(err, batch.ErrQueueClosed) {
			return ErrClosed
		}
		return fmt.Errorf("enqueue event %d: %w", ev.EventID, err)
	}
	p.metrics.queueDepth.Set(float64(p.queue.Len()))
	return nil
}

func (p *Pipeline) park(ctx context.Context, ev *event.Event, cause error) {
	now := p.clock.Now()
	evicted := p.holding.put(&parkedEvent{ev: ev, parkedAt: now})
	p.metrics.eventsParked.Inc()
	p.metrics.parkedGauge.Set(float64(p.holding.len()))

	slog.Debug("event parked",
		"event_id", ev.EventID,
		"flow_unit_id", ev.FlowUnitID,
		"parents", ev.ParentIDs,
		"error", cause,
	)

	if p.store != nil {
		if err := p.store.Park(ctx, ev, string(lineage.ErrCodeRootNotFound), now); err != nil {
			slog.Warn("failed to mirror parked event", "event_id", ev.EventID, "error", err)
		}
	}
	if evicted != nil {
		p.abandon(ctx, evicted, ReasonOverflow)
	}
}

// retryWaiting relinks parked events that reference any unit touched by
// ev. Each success may unblock further events, so the retry cascades.
func (p *Pipeline) retryWaiting(ctx context.Context, ev *event.Event) error {
	work := [][]string{referencedIDs(ev)}
	for len(work) > 0 {
		ids := work[0]
		work = work[1:]

		taken := p.holding.take(ids)
		for i, pe := range taken {
			pe.attempts++
			linked, err := p.builder.Relink(ctx, pe.ev)
			if err != nil {
				p.requeueParked(ctx, pe, err)
				continue
			}
			if err := p.enqueue(ctx, linked); err != nil {
				p.restoreParked(ctx, taken[i:], err)
				return err
			}

			p.metrics.eventsResolved.Inc()
			slog.Debug("parked event resolved",
				"event_id", pe.ev.EventID,
				"attempts", pe.attempts,
			)
			if p.store != nil {
				if err := p.store.Resolve(ctx, pe.ev.EventID, p.clock.Now()); err != nil {
					slog.Warn("failed to mark parked event resolved", "event_id", pe.ev.EventID, "error", err)
				}
			}
			work = append(work, referencedIDs(linked))
		}
	}
	p.metrics.parkedGauge.Set(float64(p.holding.len()))
	return nil
}

// restoreParked returns taken events that could not be queued. After
// Close they are abandoned; otherwise they go back to the holding area
// to wait for the next trigger or the TTL sweep.
func (p *Pipeline) restoreParked(ctx context.Context, pes []*parkedEvent, cause error) {
	storeCtx := context.WithoutCancel(ctx)
	for _, pe := range pes {
		if errors.Is(cause, ErrClosed) {
			p.abandon(storeCtx, pe, ReasonShutdown)
			continue
		}
		if evicted := p.holding.put(pe); evicted != nil {
			p.abandon(storeCtx, evicted, ReasonOverflow)
		}
	}
	p.metrics.parkedGauge.Set(float64(p.holding.len()))
	slog.Warn("requeue of resolved parked events interrupted",
		"events", len(pes),
		"error", cause,
	)
}

func (p *Pipeline) requeueParked(ctx context.Context, pe *parkedEvent, err error) {
	if !lineage.IsRootNotFound(err) {
		slog.Error("relink of parked event failed", "event_id", pe.ev.EventID, "error", err)
		p.abandon(ctx, pe, ReasonMaxAttempts)
		return
	}
	if max := p.cfg.Holding.MaxAttempts; max > 0 && pe.attempts >= max {
		p.abandon(ctx, pe, ReasonMaxAttempts)
		return
	}
	if evicted := p.holding.put(pe); evicted != nil {
		p.abandon(ctx, evicted, ReasonOverflow)
	}
	if p.store != nil {
		if err := p.store.RecordAttempt(ctx, pe.ev.EventID, pe.attempts, p.clock.Now()); err != nil {
			slog.Warn("failed to record parked attempt", "event_id", pe.ev.EventID, "error", err)
		}
	}
}

func (p *Pipeline) abandon(ctx context.Context, pe *parkedEvent, reason string) {
	p.metrics.eventsAbandoned.WithLabelValues(reason).Inc()
	slog.Error("abandoning parked event",
		"event_id", pe.ev.EventID,
		"flow_unit_id", pe.ev.FlowUnitID,
		"event_type", pe.ev.Type,
		"parents", pe.ev.ParentIDs,
		"attempts", pe.attempts,
		"parked_at", pe.parkedAt,
		"reason", reason,
	)
	if p.store != nil {
		if err := p.store.Abandon(ctx, pe.ev.EventID, reason, p.clock.Now()); err != nil {
			slog.Warn("failed to mark parked event abandoned", "event_id", pe.ev.EventID, "error", err)
		}
	}
}

// Sweep abandons parked events older than the holding TTL. Returns the
// number abandoned.
func (p *Pipeline) Sweep(ctx context.Context) int {
	expired := p.holding.expired(p.clock.Now())
	for _, pe := range expired {
		p.abandon(ctx, pe, ReasonTTL)
	}
	p.metrics.parkedGauge.Set(float64(p.holding.len()))
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (p *Pipeline) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Run is the consumer loop. It drains the queue every DrainInterval and
// whenever new events arrive, until ctx is cancelled or the pipeline is
// closed. On exit every buffered event is released.
//
// Must be called from exactly one goroutine.
func (p *Pipeline) Run(ctx context.Context) error {
	interval := p.cfg.DrainInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("pipeline starting",
		"process_delay", p.cfg.ProcessDelay,
		"drain_interval", interval,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("pipeline stopping: context cancelled")
			if err := p.Close(context.WithoutCancel(ctx)); err != nil {
				slog.Error("final flush failed", "error", err)
			}
			return ctx.Err()

		case <-ticker.C:
			// Dispatch errors are logged and counted in process.
			_, _ = p.Flush(ctx)

		case _, ok := <-p.queue.Wait():
			if !ok {
				slog.Info("pipeline stopping: queue closed")
				_, err := p.FlushAll(ctx)
				return err
			}
			_, _ = p.Flush(ctx)
		}
	}
}

// Flush releases every event whose delay has elapsed, classifies the
// cohort and dispatches it. Returns the number of events released and the
// dispatch error, if any. A failed batch is not retried.
func (p *Pipeline) Flush(ctx context.Context) (int, error) {
	p.consumeMu.Lock()
	defer p.consumeMu.Unlock()
	return p.process(ctx, p.queue.Drain())
}

// FlushAll releases every buffered event regardless of delay.
func (p *Pipeline) FlushAll(ctx context.Context) (int, error) {
	p.consumeMu.Lock()
	defer p.consumeMu.Unlock()
	return p.process(ctx, p.queue.DrainAll())
}

func (p *Pipeline) process(ctx context.Context, cohort []*event.Event) (int, error) {
	p.metrics.queueDepth.Set(float64(p.queue.Len()))
	if len(cohort) == 0 {
		p.metrics.idleDrains.Inc()
		return 0, nil
	}

	start := time.Now()
	groups := p.classifier.Classify(cohort)
	p.metrics.cohortsDrained.Inc()
	p.metrics.observeClassified(groups)

	b := dispatch.NewBatch(p.ids.Generate(), p.seq.Next(), p.clock.Now(), groups)
	err := p.dispatcher.Dispatch(ctx, b)
	if err != nil {
		err = fmt.Errorf("dispatch cohort %s: %w", b.CohortID, err)
		p.metrics.dispatchFailures.Inc()
		slog.Error("dispatch failed",
			"cohort_id", b.CohortID,
			"seq", b.Seq,
			"events", b.Len(),
			"error", err,
		)
	} else {
		slog.Debug("cohort dispatched",
			"cohort_id", b.CohortID,
			"seq", b.Seq,
			"events", b.Len(),
			"groups", len(b.Groups),
		)
	}
	p.metrics.drainDuration.Observe(time.Since(start).Seconds())

	if p.cfg.RetireCompleted {
		if n := p.Registry().RetireCompleted(); n > 0 {
			p.metrics.unitsRetired.Add(float64(n))
		}
	}
	p.metrics.registrySize.Set(float64(p.Registry().Len()))
	return len(cohort), err
}

// Close stops accepting events, releases everything still buffered and
// abandons whatever is left parked. Safe to call more than once.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.queue.Close()
		_, p.closeErr = p.FlushAll(ctx)

		for _, pe := range p.holding.takeAll() {
			p.abandon(ctx, pe, ReasonShutdown)
		}
		p.metrics.parkedGauge.Set(0)
		slog.Info("pipeline closed", "registry_units", p.Registry().Len())
	})
	return p.closeErr
}
