package lineage

import (
	"errors"
	"fmt"
)

// Error represents a failure to place an event in the ancestry graph.
//
// Errors carry the affected flow unit and event so callers can decide
// whether to park, retry, or drop the event.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// FlowUnitID identifies the unit the event concerned.
	FlowUnitID string

	// EventID identifies the offending event.
	EventID int64

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes lineage errors.
type ErrorCode string

const (
	// ErrCodeRootNotFound indicates no ancestor of the unit has been marked
	// as a job root yet.
	ErrCodeRootNotFound ErrorCode = "ROOT_NOT_FOUND"

	// ErrCodeFeedAssignmentFailed indicates the feed lookup could not name
	// the feed a unit belongs to. Non-fatal: the event continues without
	// feed metadata.
	ErrCodeFeedAssignmentFailed ErrorCode = "FEED_ASSIGNMENT_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.FlowUnitID != "" {
		return fmt.Sprintf("%s: %s (flow_unit=%s, event=%d)", e.Code, e.Message, e.FlowUnitID, e.EventID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsRootNotFound returns true if the error is a root-not-found error.
// Uses errors.As to handle wrapped errors.
func IsRootNotFound(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == ErrCodeRootNotFound
	}
	return false
}

// IsFeedAssignmentFailed returns true if the error is a feed assignment error.
func IsFeedAssignmentFailed(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == ErrCodeFeedAssignmentFailed
	}
	return false
}

func newRootNotFoundError(unitID string, eventID int64, parents []string) *Error {
	e := &Error{
		Code:       ErrCodeRootNotFound,
		Message:    "unable to resolve job root",
		FlowUnitID: unitID,
		EventID:    eventID,
	}
	if len(parents) > 0 {
		e.Details = map[string]string{"parents": fmt.Sprint(parents)}
	}
	return e
}

func newFeedAssignmentError(unitID string, eventID int64, component string) *Error {
	return &Error{
		Code:       ErrCodeFeedAssignmentFailed,
		Message:    "no feed registered for component",
		FlowUnitID: unitID,
		EventID:    eventID,
		Details:    map[string]string{"component_id": component},
	}
}
