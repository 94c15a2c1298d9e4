package event

import (
	"fmt"
	"strings"
	"time"
)

// Type is the provenance event type reported by the source.
type Type string

const (
	TypeCreate             Type = "CREATE"
	TypeReceive            Type = "RECEIVE"
	TypeFetch              Type = "FETCH"
	TypeSend               Type = "SEND"
	TypeDownload           Type = "DOWNLOAD"
	TypeDrop               Type = "DROP"
	TypeExpire             Type = "EXPIRE"
	TypeFork               Type = "FORK"
	TypeJoin               Type = "JOIN"
	TypeClone              Type = "CLONE"
	TypeContentModified    Type = "CONTENT_MODIFIED"
	TypeAttributesModified Type = "ATTRIBUTES_MODIFIED"
	TypeRoute              Type = "ROUTE"
	TypeAddInfo            Type = "ADDINFO"
	TypeReplay             Type = "REPLAY"
	TypeUnknown            Type = "UNKNOWN"
)

var knownTypes = map[Type]bool{
	TypeCreate:             true,
	TypeReceive:            true,
	TypeFetch:              true,
	TypeSend:               true,
	TypeDownload:           true,
	TypeDrop:               true,
	TypeExpire:             true,
	TypeFork:               true,
	TypeJoin:               true,
	TypeClone:              true,
	TypeContentModified:    true,
	TypeAttributesModified: true,
	TypeRoute:              true,
	TypeAddInfo:            true,
	TypeReplay:             true,
	TypeUnknown:            true,
}

// ParseType normalizes a raw type name. Unrecognized names map to
// TypeUnknown so that a new source-side type never aborts ingestion.
func ParseType(raw string) Type {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	if knownTypes[t] {
		return t
	}
	return TypeUnknown
}

// IsFirst reports whether the type can start a job (creation or receipt).
func (t Type) IsFirst() bool {
	return t == TypeCreate || t == TypeReceive
}

// IsCompletion reports whether a processor finished its work on the unit.
// SEND, CLONE and ROUTE are emitted mid-processing and do not count.
func (t Type) IsCompletion() bool {
	switch t {
	case TypeSend, TypeClone, TypeRoute:
		return false
	default:
		return true
	}
}

// IsEnding reports whether the unit leaves the flow with this event.
func (t Type) IsEnding() bool {
	return t == TypeDrop || t == TypeExpire
}

// Event is one normalized occurrence on a flow unit.
type Event struct {
	EventID     int64     `json:"event_id"`
	FlowUnitID  string    `json:"flow_unit_id"`
	Type        Type      `json:"event_type"`
	ParentIDs   []string  `json:"parent_ids,omitempty"`
	ChildIDs    []string  `json:"child_ids,omitempty"`
	ComponentID string    `json:"component_id"`
	EventTime   time.Time `json:"event_time"`

	// Stamped by the lineage builder.
	IsStartOfJob       bool     `json:"is_start_of_job"`
	IsEndOfJob         bool     `json:"is_end_of_job"`
	JobFlowUnitID      string   `json:"job_flow_unit_id,omitempty"`
	JobEventID         *int64   `json:"job_event_id,omitempty"`
	RelatedRootIDs     []string `json:"related_root_ids,omitempty"`
	FeedName           string   `json:"feed_name,omitempty"`
	FeedProcessGroupID string   `json:"feed_process_group_id,omitempty"`
	ComponentName      string   `json:"component_name,omitempty"`
	StreamHint         bool     `json:"stream_hint"`
	PreviousEventID    *int64   `json:"previous_event_id,omitempty"`

	// Stamped by the classifier.
	Stream bool `json:"stream"`
}

// HasParents reports whether the event declares at least one parent unit.
func (e *Event) HasParents() bool {
	return len(e.ParentIDs) > 0
}

// StartsJob reports whether the event marks the origin of a job: a first
// event type with no parents.
func (e *Event) StartsJob() bool {
	return e.Type.IsFirst() && !e.HasParents()
}

// StampJob records the owning job. Values already assigned are kept, so a
// retried event can never move to a different job.
func (e *Event) StampJob(rootID string, firstEventID *int64) {
	if e.JobFlowUnitID == "" {
		e.JobFlowUnitID = rootID
	}
	if e.JobEventID == nil && firstEventID != nil {
		id := *firstEventID
		e.JobEventID = &id
	}
}

// Validate checks the fields every source must supply.
func (e *Event) Validate() error {
	if e.FlowUnitID == "" {
		return fmt.Errorf("event %d: flow_unit_id is required", e.EventID)
	}
	if e.Type == "" {
		return fmt.Errorf("event %d: event_type is required", e.EventID)
	}
	if e.EventTime.IsZero() {
		return fmt.Errorf("event %d: event_time is required", e.EventID)
	}
	return nil
}

// String identifies the event in log output.
func (e *Event) String() string {
	return fmt.Sprintf("event(id=%d unit=%s type=%s component=%s)", e.EventID, e.FlowUnitID, e.Type, e.ComponentID)
}
