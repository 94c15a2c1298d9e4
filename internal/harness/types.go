package harness

import (
	"github.com/roach88/flowlineage/internal/classify"
	"github.com/roach88/flowlineage/internal/lineage"
)

// TraceEvent is one dispatched event as the harness observed it.
// Fields are the lineage and classification outputs; source timestamps
// are left out so traces read the same at any offset.
type TraceEvent struct {
	Seq            int64          `json:"seq"`
	Cohort         string         `json:"cohort"`
	Feed           string         `json:"feed"`
	ComponentID    string         `json:"component_id"`
	Label          classify.Label `json:"label"`
	EventID        int64          `json:"event_id"`
	FlowUnitID     string         `json:"flow_unit_id"`
	Type           string         `json:"event_type"`
	JobFlowUnitID  string         `json:"job_flow_unit_id"`
	JobEventID     *int64         `json:"job_event_id"`
	IsStartOfJob   bool           `json:"is_start_of_job"`
	IsEndOfJob     bool           `json:"is_end_of_job"`
	RelatedRootIDs []string       `json:"related_root_ids,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists dispatched events in dispatch order.
	Trace []TraceEvent `json:"trace"`

	// Unresolved lists events still parked when input ended, by event id.
	Unresolved []int64 `json:"unresolved,omitempty"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	registry *lineage.Registry
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// eventsFor returns the trace entries for one flow unit.
func (r *Result) eventsFor(unitID string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.FlowUnitID == unitID {
			out = append(out, ev)
		}
	}
	return out
}

// event returns the trace entry for an event id.
func (r *Result) event(eventID int64) (TraceEvent, bool) {
	for _, ev := range r.Trace {
		if ev.EventID == eventID {
			return ev, true
		}
	}
	return TraceEvent{}, false
}
