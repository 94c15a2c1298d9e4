package pipeline

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator names released cohorts.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 cohort ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so cohort ids
// sort by release time in downstream logs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Sequence numbers cohorts in release order. Every dispatched batch
// carries a strictly increasing seq.
type Sequence struct {
	seq atomic.Int64
}

// NewSequenceAt creates a sequence whose first Next returns start+1.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last number handed out.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
