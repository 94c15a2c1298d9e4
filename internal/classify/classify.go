// Package classify labels groups of events as stream or batch.
//
// A cohort released by the delayed queue is partitioned by feed and
// component. A partition is a stream when it holds at least
// EventsToConsiderStream events and no two consecutive timestamps are
// MaxTimeBetweenEvents or more apart. Everything else is a batch.
package classify

import (
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/flowlineage/internal/event"
)

// Label is the classification of a partition.
type Label string

const (
	LabelStream Label = "stream"
	LabelBatch  Label = "batch"
)

// Config holds the classification thresholds.
type Config struct {
	// MaxTimeBetweenEvents is the largest gap still counted as a stream.
	MaxTimeBetweenEvents time.Duration

	// EventsToConsiderStream is the minimum partition size for a stream.
	EventsToConsiderStream int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxTimeBetweenEvents:   200 * time.Millisecond,
		EventsToConsiderStream: 10,
	}
}

// Group is one labeled partition of a cohort.
type Group struct {
	Feed        string
	ComponentID string
	Label       Label
	Events      []*event.Event
}

// Classifier applies a Config to cohorts. It holds no state between calls.
type Classifier struct {
	cfg Config
}

// New creates a classifier.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Config returns the classifier's thresholds.
func (c *Classifier) Config() Config {
	return c.cfg
}

type partitionKey struct {
	feed      string
	component string
}

// Classify partitions cohort by (feed, component) in first-seen order,
// labels each partition and stamps every event's Stream field.
// Events keep their relative order within a partition.
// An empty cohort returns nil.
func (c *Classifier) Classify(cohort []*event.Event) []Group {
	if len(cohort) == 0 {
		return nil
	}

	index := make(map[partitionKey]int)
	var groups []Group
	for _, ev := range cohort {
		key := partitionKey{
			feed:      norm.NFC.String(ev.FeedName),
			component: ev.ComponentID,
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Feed: key.feed, ComponentID: key.component})
		}
		groups[i].Events = append(groups[i].Events, ev)
	}

	for i := range groups {
		g := &groups[i]
		g.Label = c.label(g.Events)
		stream := g.Label == LabelStream
		for _, ev := range g.Events {
			ev.Stream = stream
		}
	}
	return groups
}

func (c *Classifier) label(events []*event.Event) Label {
	if len(events) < c.cfg.EventsToConsiderStream {
		return LabelBatch
	}

	times := make([]time.Time, len(events))
	for i, ev := range events {
		times[i] = ev.EventTime
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	for i := 1; i < len(times); i++ {
		if times[i].Sub(times[i-1]) >= c.cfg.MaxTimeBetweenEvents {
			return LabelBatch
		}
	}
	return LabelStream
}

// Flatten returns the events of groups in partition order.
func Flatten(groups []Group) []*event.Event {
	n := 0
	for _, g := range groups {
		n += len(g.Events)
	}
	out := make([]*event.Event, 0, n)
	for _, g := range groups {
		out = append(out, g.Events...)
	}
	return out
}

// Counts returns how many events carry each label.
func Counts(groups []Group) map[Label]int {
	out := make(map[Label]int, 2)
	for _, g := range groups {
		out[g.Label] += len(g.Events)
	}
	return out
}
