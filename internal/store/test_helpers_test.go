package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/flowlineage/internal/event"
	"github.com/roach88/flowlineage/internal/testutil"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent creates an event referencing an unseen parent.
func createTestEvent(id int64, unit string) *event.Event {
	return &event.Event{
		EventID:     id,
		FlowUnitID:  unit,
		Type:        event.TypeContentModified,
		ParentIDs:   []string{"missing-" + unit},
		ComponentID: "proc-1",
		EventTime:   testutil.Epoch.Add(time.Duration(id) * time.Millisecond),
	}
}
