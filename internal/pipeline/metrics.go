package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/roach88/flowlineage/internal/classify"
	"github.com/roach88/flowlineage/internal/event"
	"github.com/roach88/flowlineage/internal/lineage"
)

const namespace = "flowlineage"

// Metrics is the pipeline's counter object. Each pipeline owns one;
// nothing is registered globally.
type Metrics struct {
	eventsSubmitted  prometheus.Counter
	eventsLinked     prometheus.Counter
	rootNotFound     prometheus.Counter
	feedAssignFailed prometheus.Counter
	jobsCompleted    prometheus.Counter
	unitsRetired     prometheus.Counter

	eventsParked    prometheus.Counter
	eventsResolved  prometheus.Counter
	eventsAbandoned *prometheus.CounterVec
	parkedGauge     prometheus.Gauge

	cohortsDrained   prometheus.Counter
	idleDrains       prometheus.Counter
	eventsClassified *prometheus.CounterVec
	dispatchFailures prometheus.Counter
	drainDuration    prometheus.Histogram

	queueDepth   prometheus.Gauge
	registrySize prometheus.Gauge
}

var _ lineage.Observer = (*Metrics)(nil)

// NewMetrics creates the pipeline metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lineage", Name: "events_submitted_total",
			Help: "Events handed to the pipeline.",
		}),
		eventsLinked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lineage", Name: "events_linked_total",
			Help: "Events linked into the ancestry graph.",
		}),
		rootNotFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lineage", Name: "root_not_found_total",
			Help: "Link attempts that could not resolve a job root.",
		}),
		feedAssignFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lineage", Name: "feed_assignment_failures_total",
			Help: "Events linked without feed metadata.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lineage", Name: "jobs_completed_total",
			Help: "Jobs whose root and descendants have all ended.",
		}),
		unitsRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lineage", Name: "units_retired_total",
			Help: "Flow units evicted after their job completed.",
		}),
		eventsParked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "holding", Name: "events_parked_total",
			Help: "Events parked awaiting an ancestor.",
		}),
		eventsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "holding", Name: "events_resolved_total",
			Help: "Parked events linked on retry.",
		}),
		eventsAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "holding", Name: "events_abandoned_total",
			Help: "Parked events given up on, by reason.",
		}, []string{"reason"}),
		parkedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "holding", Name: "events_waiting",
			Help: "Events currently parked.",
		}),
		cohortsDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "cohorts_drained_total",
			Help: "Non-empty cohorts released by the queue.",
		}),
		idleDrains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "idle_drains_total",
			Help: "Drain ticks that released nothing.",
		}),
		eventsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "events_classified_total",
			Help: "Events classified, by label.",
		}, []string{"label"}),
		dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "dispatch_failures_total",
			Help: "Batches the dispatcher failed to deliver.",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "batch", Name: "drain_duration_seconds",
			Help:    "Time to classify and dispatch one cohort.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "batch", Name: "queue_depth",
			Help: "Events buffered in the delayed queue.",
		}),
		registrySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "lineage", Name: "registry_units",
			Help: "Flow units held in the registry.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.eventsSubmitted, m.eventsLinked, m.rootNotFound, m.feedAssignFailed,
			m.jobsCompleted, m.unitsRetired,
			m.eventsParked, m.eventsResolved, m.eventsAbandoned, m.parkedGauge,
			m.cohortsDrained, m.idleDrains, m.eventsClassified, m.dispatchFailures,
			m.drainDuration, m.queueDepth, m.registrySize,
		)
	}
	return m
}

// EventLinked implements lineage.Observer.
func (m *Metrics) EventLinked(*event.Event) { m.eventsLinked.Inc() }

// RootNotFound implements lineage.Observer.
func (m *Metrics) RootNotFound(*event.Event) { m.rootNotFound.Inc() }

// FeedAssignmentFailed implements lineage.Observer.
func (m *Metrics) FeedAssignmentFailed(*event.Event) { m.feedAssignFailed.Inc() }

// JobCompleted implements lineage.Observer.
func (m *Metrics) JobCompleted(string) { m.jobsCompleted.Inc() }

func (m *Metrics) observeClassified(groups []classify.Group) {
	for label, n := range classify.Counts(groups) {
		m.eventsClassified.WithLabelValues(string(label)).Add(float64(n))
	}
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	Submitted        int64 `json:"submitted"`
	Linked           int64 `json:"linked"`
	RootNotFound     int64 `json:"root_not_found"`
	FeedAssignFailed int64 `json:"feed_assignment_failures"`
	JobsCompleted    int64 `json:"jobs_completed"`
	Parked           int64 `json:"parked"`
	Resolved         int64 `json:"resolved"`
	Abandoned        int64 `json:"abandoned"`
	Cohorts          int64 `json:"cohorts"`
	Stream           int64 `json:"stream"`
	Batch            int64 `json:"batch"`
	DispatchFailures int64 `json:"dispatch_failures"`
}

// Snapshot reads the current counter values.
func (m *Metrics) Snapshot() Stats {
	return Stats{
		Submitted:        counterValue(m.eventsSubmitted),
		Linked:           counterValue(m.eventsLinked),
		RootNotFound:     counterValue(m.rootNotFound),
		FeedAssignFailed: counterValue(m.feedAssignFailed),
		JobsCompleted:    counterValue(m.jobsCompleted),
		Parked:           counterValue(m.eventsParked),
		Resolved:         counterValue(m.eventsResolved),
		Abandoned:        vecTotal(m.eventsAbandoned),
		Cohorts:          counterValue(m.cohortsDrained),
		Stream:           counterValue(m.eventsClassified.WithLabelValues(string(classify.LabelStream))),
		Batch:            counterValue(m.eventsClassified.WithLabelValues(string(classify.LabelBatch))),
		DispatchFailures: counterValue(m.dispatchFailures),
	}
}

func counterValue(c prometheus.Counter) int64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return int64(pb.GetCounter().GetValue())
}

func vecTotal(vec *prometheus.CounterVec) int64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	var total int64
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err == nil {
			total += int64(pb.GetCounter().GetValue())
		}
	}
	return total
}
