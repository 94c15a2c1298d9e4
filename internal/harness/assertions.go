package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/flowlineage/internal/classify"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] event=%d unit=%s type=%s root=%s label=%s\n",
				i+1, ev.EventID, ev.FlowUnitID, ev.Type, ev.JobFlowUnitID, ev.Label)
		}
	}
	return buf.String()
}

// assertRootOf checks that every dispatched event of the unit belongs to
// the expected job root.
func assertRootOf(r *Result, a Assertion) error {
	events := r.eventsFor(a.FlowUnit)
	if len(events) == 0 {
		return &AssertionError{
			Type:     AssertRootOf,
			Expected: fmt.Sprintf("events for flow unit %s", a.FlowUnit),
			Actual:   "none dispatched",
			Trace:    r.Trace,
		}
	}
	for _, ev := range events {
		if ev.JobFlowUnitID != a.Root {
			return &AssertionError{
				Type:     AssertRootOf,
				Expected: fmt.Sprintf("flow unit %s in job %s", a.FlowUnit, a.Root),
				Actual:   fmt.Sprintf("event %d stamped with job %q", ev.EventID, ev.JobFlowUnitID),
				Trace:    r.Trace,
			}
		}
	}
	return nil
}

func assertStartOfJob(r *Result, a Assertion) error {
	want := true
	if a.Expect != nil {
		want = *a.Expect
	}
	ev, ok := r.event(a.Event)
	if !ok {
		return &AssertionError{
			Type:     AssertStartOfJob,
			Expected: fmt.Sprintf("event %d dispatched", a.Event),
			Actual:   "not found in trace",
			Trace:    r.Trace,
		}
	}
	if ev.IsStartOfJob != want {
		return &AssertionError{
			Type:     AssertStartOfJob,
			Expected: fmt.Sprintf("event %d is_start_of_job=%t", a.Event, want),
			Actual:   fmt.Sprintf("is_start_of_job=%t", ev.IsStartOfJob),
			Trace:    r.Trace,
		}
	}
	return nil
}

func assertJobEvent(r *Result, a Assertion) error {
	events := r.eventsFor(a.FlowUnit)
	if len(events) == 0 {
		return &AssertionError{
			Type:     AssertJobEvent,
			Expected: fmt.Sprintf("events for flow unit %s", a.FlowUnit),
			Actual:   "none dispatched",
			Trace:    r.Trace,
		}
	}
	for _, ev := range events {
		if ev.JobEventID == nil || *ev.JobEventID != a.JobEvent {
			actual := "no job event"
			if ev.JobEventID != nil {
				actual = fmt.Sprintf("job event %d", *ev.JobEventID)
			}
			return &AssertionError{
				Type:     AssertJobEvent,
				Expected: fmt.Sprintf("event %d with job event %d", ev.EventID, a.JobEvent),
				Actual:   actual,
				Trace:    r.Trace,
			}
		}
	}
	return nil
}

// assertRelatedRoots compares the root's related set, read from the
// registry, with the expected ids (order-insensitive).
func assertRelatedRoots(r *Result, a Assertion) error {
	unit, ok := r.registry.Get(a.FlowUnit)
	if !ok {
		return &AssertionError{
			Type:     AssertRelatedRoots,
			Expected: fmt.Sprintf("flow unit %s in registry", a.FlowUnit),
			Actual:   "unknown unit",
		}
	}
	got := unit.RelatedRootIDs()
	want := append([]string(nil), a.Roots...)
	sort.Strings(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertRelatedRoots,
			Expected: fmt.Sprintf("%s related to %v", a.FlowUnit, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertRootNotFound(r *Result, a Assertion) error {
	if slices.Contains(r.Unresolved, a.Event) {
		return nil
	}
	return &AssertionError{
		Type:     AssertRootNotFound,
		Expected: fmt.Sprintf("event %d left unresolved", a.Event),
		Actual:   fmt.Sprintf("unresolved events %v", r.Unresolved),
		Trace:    r.Trace,
	}
}

// assertLabel checks every dispatched event of the partition. Feed
// narrows the partition when set.
func assertLabel(r *Result, a Assertion) error {
	matched := 0
	for _, ev := range r.Trace {
		if ev.ComponentID != a.Component || (a.Feed != "" && ev.Feed != a.Feed) {
			continue
		}
		matched++
		if ev.Label != classify.Label(a.Label) {
			return &AssertionError{
				Type:     AssertLabel,
				Expected: fmt.Sprintf("component %s labeled %s", a.Component, a.Label),
				Actual:   fmt.Sprintf("event %d labeled %s", ev.EventID, ev.Label),
				Trace:    r.Trace,
			}
		}
	}
	if matched == 0 {
		return &AssertionError{
			Type:     AssertLabel,
			Expected: fmt.Sprintf("events for component %s", a.Component),
			Actual:   "none dispatched",
			Trace:    r.Trace,
		}
	}
	return nil
}

// assertNoSelfLoops walks the whole registry: no unit is its own parent
// or child, and every edge is recorded on both ends.
func assertNoSelfLoops(r *Result, _ Assertion) error {
	for _, id := range r.registry.IDs() {
		unit, ok := r.registry.Get(id)
		if !ok {
			continue
		}
		if unit.HasParent(id) || unit.HasChild(id) {
			return &AssertionError{
				Type:     AssertNoSelfLoops,
				Expected: "no unit linked to itself",
				Actual:   fmt.Sprintf("self edge on %s", id),
			}
		}
		for _, pid := range unit.ParentIDs() {
			parent, ok := r.registry.Get(pid)
			if !ok || !parent.HasChild(id) {
				return &AssertionError{
					Type:     AssertNoSelfLoops,
					Expected: fmt.Sprintf("%s lists %s as child", pid, id),
					Actual:   "edge recorded on one side only",
				}
			}
		}
		for _, cid := range unit.ChildIDs() {
			child, ok := r.registry.Get(cid)
			if !ok || !child.HasParent(id) {
				return &AssertionError{
					Type:     AssertNoSelfLoops,
					Expected: fmt.Sprintf("%s lists %s as parent", cid, id),
					Actual:   "edge recorded on one side only",
				}
			}
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRootOf:
			err = assertRootOf(result, assertion)
		case AssertStartOfJob:
			err = assertStartOfJob(result, assertion)
		case AssertJobEvent:
			err = assertJobEvent(result, assertion)
		case AssertRelatedRoots, AssertNoSelfLoops:
			if result.registry == nil {
				err = fmt.Errorf("assertion[%d]: %s requires the registry", i, assertion.Type)
			} else if assertion.Type == AssertRelatedRoots {
				err = assertRelatedRoots(result, assertion)
			} else {
				err = assertNoSelfLoops(result, assertion)
			}
		case AssertRootNotFound:
			err = assertRootNotFound(result, assertion)
		case AssertLabel:
			err = assertLabel(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
