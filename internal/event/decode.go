package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed marks a line that could not be decoded into a valid event.
// The decoder stays usable after returning it.
var ErrMalformed = errors.New("malformed event")

// maxLineSize bounds a single JSON line. Events carrying thousands of
// parent ids (JOIN) can exceed bufio's 64KiB default.
const maxLineSize = 4 << 20

// Decoder reads JSON Lines encoded events.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: s}
}

// Next returns the next event. Blank lines are skipped.
// Returns io.EOF when the input is exhausted.
func (d *Decoder) Next() (*Event, error) {
	for d.scanner.Scan() {
		d.line++
		raw := d.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", d.line, ErrMalformed, err)
		}
		ev.Type = ParseType(string(ev.Type))
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", d.line, ErrMalformed, err)
		}
		return &ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: read events: %w", d.line+1, err)
	}
	return nil, io.EOF
}

// ReadAll decodes every remaining event.
func (d *Decoder) ReadAll() ([]*Event, error) {
	var events []*Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
