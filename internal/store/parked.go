package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/flowlineage/internal/event"
)

// Status is the lifecycle state of a parked event row.
type Status string

const (
	StatusParked    Status = "parked"
	StatusResolved  Status = "resolved"
	StatusAbandoned Status = "abandoned"
)

// ParseStatus validates a status name. The empty string means all
// statuses.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusParked, StatusResolved, StatusAbandoned:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q (want parked, resolved or abandoned)", s)
}

// ParkedEvent is one row of the holding area.
type ParkedEvent struct {
	Event     *event.Event
	Reason    string
	Status    Status
	Attempts  int
	ParkedAt  time.Time
	UpdatedAt time.Time
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Park records ev as waiting. Parking an event id that is already stored
// is a no-op.
func (s *Store) Park(ctx context.Context, ev *event.Event, reason string, at time.Time) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("park event %d: %w", ev.EventID, err)
	}

	ts := at.UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parked_events
		(event_id, flow_unit_id, event_type, payload, reason, status, attempts, parked_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`,
		ev.EventID,
		ev.FlowUnitID,
		string(ev.Type),
		string(payload),
		reason,
		string(StatusParked),
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("park event %d: %w", ev.EventID, err)
	}
	return nil
}

// RecordAttempt stores the retry count for a parked event.
func (s *Store) RecordAttempt(ctx context.Context, eventID int64, attempts int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE parked_events SET attempts = ?, updated_at = ?
		WHERE event_id = ? AND status = ?
	`, attempts, at.UTC().Format(timeLayout), eventID, string(StatusParked))
	if err != nil {
		return fmt.Errorf("record attempt for event %d: %w", eventID, err)
	}
	return nil
}

// Resolve marks a parked event as linked.
func (s *Store) Resolve(ctx context.Context, eventID int64, at time.Time) error {
	return s.setStatus(ctx, eventID, StatusResolved, "", at)
}

// Abandon marks a parked event as given up, recording why.
func (s *Store) Abandon(ctx context.Context, eventID int64, reason string, at time.Time) error {
	return s.setStatus(ctx, eventID, StatusAbandoned, reason, at)
}

func (s *Store) setStatus(ctx context.Context, eventID int64, status Status, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE parked_events
		SET status = ?, reason = COALESCE(NULLIF(?, ''), reason), updated_at = ?
		WHERE event_id = ? AND status = ?
	`, string(status), reason, at.UTC().Format(timeLayout), eventID, string(StatusParked))
	if err != nil {
		return fmt.Errorf("mark event %d %s: %w", eventID, status, err)
	}
	return nil
}

// List returns parked event rows ordered by parked_at, event_id.
// An empty status lists every row.
func (s *Store) List(ctx context.Context, status Status) ([]ParkedEvent, error) {
	query := `
		SELECT payload, reason, status, attempts, parked_at, updated_at
		FROM parked_events`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY parked_at ASC, event_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list parked events: %w", err)
	}
	defer rows.Close()

	var out []ParkedEvent
	for rows.Next() {
		p, err := scanParked(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list parked events: %w", err)
	}
	return out, nil
}

// Counts returns the number of rows per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM parked_events GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count parked events: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count parked events: %w", err)
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

func scanParked(rows *sql.Rows) (ParkedEvent, error) {
	var (
		payload, reason, status, parkedAt, updatedAt string
		attempts                                     int
	)
	if err := rows.Scan(&payload, &reason, &status, &attempts, &parkedAt, &updatedAt); err != nil {
		return ParkedEvent{}, fmt.Errorf("scan parked event: %w", err)
	}

	var ev event.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ParkedEvent{}, fmt.Errorf("decode parked payload: %w", err)
	}
	p := ParkedEvent{
		Event:    &ev,
		Reason:   reason,
		Status:   Status(status),
		Attempts: attempts,
	}
	var err error
	if p.ParkedAt, err = time.Parse(timeLayout, parkedAt); err != nil {
		return ParkedEvent{}, fmt.Errorf("parse parked_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return ParkedEvent{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return p, nil
}
