package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "test.yaml")

	content := `
name: test_scenario
description: "Test scenario for validation"
stream:
  max_time_between_events: 500ms
events:
  - event_id: 1
    flow_unit_id: U1
    event_type: create
    component_id: src
    at: 0s
  - event_id: 2
    flow_unit_id: U2
    event_type: FORK
    parent_ids: [U1]
    component_id: split
    at: 1500ms
assertions:
  - type: root_of
    flow_unit: U2
    root: U1
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	require.Len(t, scenario.Events, 2)
	assert.Equal(t, 1500*time.Millisecond, scenario.Events[1].At)
	assert.Equal(t, []string{"U1"}, scenario.Events[1].ParentIDs)

	// Unset stream keys keep their defaults.
	assert.Equal(t, 500*time.Millisecond, scenario.Stream.MaxTimeBetweenEvents)
	assert.Equal(t, 10, scenario.Stream.EventsToConsiderStream)
	assert.Equal(t, 3*time.Second, scenario.Stream.ProcessDelay)
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "misspelled key"
events:
  - {event_id: 1, flow_unit_id: U1, event_type: CREATE, at: 0s}
assertion:
  - {type: no_self_loops}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nevents: [{event_id: 1, flow_unit_id: U, event_type: CREATE}]\nassertions: [{type: no_self_loops}]",
			wantErr: "name is required",
		},
		{
			name:    "missing events",
			yaml:    "name: n\ndescription: d\nassertions: [{type: no_self_loops}]",
			wantErr: "events list is required",
		},
		{
			name:    "missing assertions",
			yaml:    "name: n\ndescription: d\nevents: [{event_id: 1, flow_unit_id: U, event_type: CREATE}]",
			wantErr: "assertions list is required",
		},
		{
			name:    "duplicate event id",
			yaml:    "name: n\ndescription: d\nevents: [{event_id: 1, flow_unit_id: U, event_type: CREATE}, {event_id: 1, flow_unit_id: V, event_type: CREATE}]\nassertions: [{type: no_self_loops}]",
			wantErr: "duplicate event_id 1",
		},
		{
			name:    "missing flow unit",
			yaml:    "name: n\ndescription: d\nevents: [{event_id: 1, event_type: CREATE}]\nassertions: [{type: no_self_loops}]",
			wantErr: "events[0]: flow_unit_id is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nevents: [{event_id: 1, flow_unit_id: U, event_type: CREATE}]\nassertions: [{type: trace_order}]",
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name:    "root_of without root",
			yaml:    "name: n\ndescription: d\nevents: [{event_id: 1, flow_unit_id: U, event_type: CREATE}]\nassertions: [{type: root_of, flow_unit: U}]",
			wantErr: "flow_unit and root are required",
		},
		{
			name:    "bad label",
			yaml:    "name: n\ndescription: d\nevents: [{event_id: 1, flow_unit_id: U, event_type: CREATE}]\nassertions: [{type: label, component: c, label: trickle}]",
			wantErr: "label must be stream or batch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_TestdataFiles(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			_, err := LoadScenario(f)
			assert.NoError(t, err)
		})
	}
}
