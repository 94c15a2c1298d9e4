package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowlineage/internal/config"
	"github.com/roach88/flowlineage/internal/event"
	"github.com/roach88/flowlineage/internal/feeds"
)

// Scenario is one conformance case: an ordered event stream fed through a
// real pipeline, plus assertions over what it dispatched.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Stream overrides the batching delay and classifier thresholds.
	// Unset keys keep their defaults.
	Stream config.StreamConfig `yaml:"stream"`

	// Feeds is an optional inline feed map. Without one, no event gets
	// feed metadata.
	Feeds *feeds.Map `yaml:"feeds,omitempty"`

	// Events are submitted in the order listed.
	Events []EventStep `yaml:"events"`

	// Assertions are checked after every event has been dispatched.
	Assertions []Assertion `yaml:"assertions"`
}

// EventStep is one source event. At is the offset from the scenario
// start; the harness clock moves to it before the event is submitted.
type EventStep struct {
	EventID     int64         `yaml:"event_id"`
	FlowUnitID  string        `yaml:"flow_unit_id"`
	Type        string        `yaml:"event_type"`
	ParentIDs   []string      `yaml:"parent_ids,omitempty"`
	ChildIDs    []string      `yaml:"child_ids,omitempty"`
	ComponentID string        `yaml:"component_id"`
	At          time.Duration `yaml:"at"`
}

func (s EventStep) toEvent(start time.Time) *event.Event {
	return &event.Event{
		EventID:     s.EventID,
		FlowUnitID:  s.FlowUnitID,
		Type:        event.ParseType(s.Type),
		ParentIDs:   append([]string(nil), s.ParentIDs...),
		ChildIDs:    append([]string(nil), s.ChildIDs...),
		ComponentID: s.ComponentID,
		EventTime:   start.Add(s.At),
	}
}

// Assertion checks one property of the result.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// FlowUnit is the unit under test (root_of, job_event, related_roots).
	FlowUnit string `yaml:"flow_unit,omitempty"`

	// Root is the expected job root (root_of).
	Root string `yaml:"root,omitempty"`

	// Event is the event under test (start_of_job, root_not_found).
	Event int64 `yaml:"event,omitempty"`

	// Expect is the expected flag for start_of_job. Defaults to true.
	Expect *bool `yaml:"expect,omitempty"`

	// JobEvent is the expected first event id of the job (job_event).
	JobEvent int64 `yaml:"job_event,omitempty"`

	// Roots is the expected related root set (related_roots).
	Roots []string `yaml:"roots,omitempty"`

	// Feed and Component select a partition; Label is its expected label.
	Feed      string `yaml:"feed,omitempty"`
	Component string `yaml:"component,omitempty"`
	Label     string `yaml:"label,omitempty"`
}

// Assertion type constants.
const (
	AssertRootOf       = "root_of"
	AssertStartOfJob   = "start_of_job"
	AssertJobEvent     = "job_event"
	AssertRelatedRoots = "related_roots"
	AssertRootNotFound = "root_not_found"
	AssertLabel        = "label"
	AssertNoSelfLoops  = "no_self_loops"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML. Stream settings start from the
// built-in defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	scenario := Scenario{Stream: config.Default().Stream}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[int64]bool, len(s.Events))
	for i, step := range s.Events {
		if step.EventID <= 0 {
			return fmt.Errorf("events[%d]: event_id must be positive", i)
		}
		if seen[step.EventID] {
			return fmt.Errorf("events[%d]: duplicate event_id %d", i, step.EventID)
		}
		seen[step.EventID] = true
		if step.FlowUnitID == "" {
			return fmt.Errorf("events[%d]: flow_unit_id is required", i)
		}
		if step.Type == "" {
			return fmt.Errorf("events[%d]: event_type is required", i)
		}
		if step.At < 0 {
			return fmt.Errorf("events[%d]: at must not be negative", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRootOf:
		if a.FlowUnit == "" || a.Root == "" {
			return fmt.Errorf("assertions[%d]: flow_unit and root are required for root_of", index)
		}
	case AssertStartOfJob, AssertRootNotFound:
		if a.Event == 0 {
			return fmt.Errorf("assertions[%d]: event is required for %s", index, a.Type)
		}
	case AssertJobEvent:
		if a.FlowUnit == "" || a.JobEvent == 0 {
			return fmt.Errorf("assertions[%d]: flow_unit and job_event are required for job_event", index)
		}
	case AssertRelatedRoots:
		if a.FlowUnit == "" {
			return fmt.Errorf("assertions[%d]: flow_unit is required for related_roots", index)
		}
	case AssertLabel:
		if a.Component == "" {
			return fmt.Errorf("assertions[%d]: component is required for label", index)
		}
		if a.Label != "stream" && a.Label != "batch" {
			return fmt.Errorf("assertions[%d]: label must be stream or batch, got %q", index, a.Label)
		}
	case AssertNoSelfLoops:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
