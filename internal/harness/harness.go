package harness

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/flowlineage/internal/config"
	"github.com/roach88/flowlineage/internal/dispatch"
	"github.com/roach88/flowlineage/internal/feeds"
	"github.com/roach88/flowlineage/internal/lineage"
	"github.com/roach88/flowlineage/internal/pipeline"
	"github.com/roach88/flowlineage/internal/testutil"
)

// recorder keeps every dispatched batch in order.
type recorder struct {
	mu      sync.Mutex
	batches []dispatch.Batch
}

func (r *recorder) Dispatch(_ context.Context, b dispatch.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh pipeline driven by a manual clock that starts
// at testutil.Epoch, and cohort ids from a sequential generator, so the
// trace is identical on every run.
//
// Execution flow:
//  1. Build the pipeline from the scenario's stream settings and feed map
//  2. For each event, move the clock to its offset, release whatever is
//     due, then submit the event
//  3. Record still-parked events, then close the pipeline to release the rest
//  4. Evaluate assertions against the dispatched trace
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.Stream = scenario.Stream
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("stream settings: %w", err)
	}
	pcfg := cfg.PipelineConfig()
	pcfg.RetireCompleted = false // assertions inspect the registry afterwards

	var lookup lineage.FeedLookup = lineage.NopLookup{}
	if scenario.Feeds != nil {
		static, err := feeds.NewStatic(*scenario.Feeds)
		if err != nil {
			return nil, fmt.Errorf("feed map: %w", err)
		}
		lookup = static
	}

	clock := testutil.NewManualClock(testutil.Epoch)
	rec := &recorder{}
	p := pipeline.New(pcfg, lookup, rec,
		pipeline.WithClock(clock),
		pipeline.WithIDGenerator(testutil.NewSequentialIDGenerator("cohort")),
		pipeline.WithMetrics(pipeline.NewMetrics(nil)),
	)

	for i, step := range scenario.Events {
		clock.Set(testutil.Epoch.Add(step.At))
		if _, err := p.Flush(ctx); err != nil {
			return nil, fmt.Errorf("events[%d]: flush: %w", i, err)
		}
		if err := p.Submit(ctx, step.toEvent(testutil.Epoch)); err != nil {
			return nil, fmt.Errorf("events[%d]: submit: %w", i, err)
		}
	}

	result := NewResult()
	for _, ev := range p.Parked() {
		result.Unresolved = append(result.Unresolved, ev.EventID)
	}
	sort.Slice(result.Unresolved, func(i, j int) bool { return result.Unresolved[i] < result.Unresolved[j] })

	if err := p.Close(ctx); err != nil {
		return nil, fmt.Errorf("close pipeline: %w", err)
	}

	for _, b := range rec.batches {
		for _, g := range b.Groups {
			for _, ev := range g.Events {
				result.Trace = append(result.Trace, TraceEvent{
					Seq:            b.Seq,
					Cohort:         b.CohortID,
					Feed:           g.Feed,
					ComponentID:    g.ComponentID,
					Label:          g.Label,
					EventID:        ev.EventID,
					FlowUnitID:     ev.FlowUnitID,
					Type:           string(ev.Type),
					JobFlowUnitID:  ev.JobFlowUnitID,
					JobEventID:     ev.JobEventID,
					IsStartOfJob:   ev.IsStartOfJob,
					IsEndOfJob:     ev.IsEndOfJob,
					RelatedRootIDs: ev.RelatedRootIDs,
				})
			}
		}
	}
	result.registry = p.Registry()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}
