// Package feeds implements lineage.FeedLookup from a static feed map and
// adds a memoizing wrapper for lookups backed by slower sources.
package feeds

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowlineage/internal/event"
	"github.com/roach88/flowlineage/internal/lineage"
)

// Map is the on-disk feed map.
//
//	processors:
//	  - id: 3f2a...
//	    name: GetFile
//	feeds:
//	  - name: orders
//	    process_group_id: pg-orders
//	    stream: true
//	    components: [3f2a..., 91bc...]
type Map struct {
	Processors []Processor `yaml:"processors"`
	Feeds      []Feed      `yaml:"feeds"`
}

// Processor names one component.
type Processor struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Feed groups the components that start its jobs.
type Feed struct {
	Name           string   `yaml:"name"`
	ProcessGroupID string   `yaml:"process_group_id"`
	Stream         bool     `yaml:"stream"`
	Components     []string `yaml:"components"`
}

// Static answers lookups from an in-memory Map. Safe for concurrent use;
// it is never mutated after construction.
type Static struct {
	processors  map[string]string
	byComponent map[string]Feed
	streaming   map[string]bool
}

var _ lineage.FeedLookup = (*Static)(nil)

// NewStatic indexes m. A component listed under two feeds is an error.
func NewStatic(m Map) (*Static, error) {
	s := &Static{
		processors:  make(map[string]string, len(m.Processors)),
		byComponent: make(map[string]Feed),
		streaming:   make(map[string]bool),
	}
	for _, p := range m.Processors {
		if p.ID == "" {
			return nil, fmt.Errorf("processor with name %q has no id", p.Name)
		}
		s.processors[p.ID] = p.Name
	}
	for _, f := range m.Feeds {
		if f.Name == "" {
			return nil, fmt.Errorf("feed with process group %q has no name", f.ProcessGroupID)
		}
		s.streaming[f.Name] = f.Stream
		for _, c := range f.Components {
			if prev, ok := s.byComponent[c]; ok {
				return nil, fmt.Errorf("component %s listed in feeds %q and %q", c, prev.Name, f.Name)
			}
			s.byComponent[c] = f
		}
	}
	return s, nil
}

// LoadFile reads a feed map from a YAML file. Unknown keys are rejected.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feed map: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML feed map.
func Parse(data []byte) (*Static, error) {
	var m Map
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse feed map: %w", err)
	}
	return NewStatic(m)
}

// ProcessorName implements lineage.FeedLookup.
func (s *Static) ProcessorName(_ context.Context, componentID string) string {
	return s.processors[componentID]
}

// AssignFeedInfo implements lineage.FeedLookup. The feed is chosen by the
// component that started the unit's job.
func (s *Static) AssignFeedInfo(_ context.Context, unit *lineage.FlowUnit) bool {
	f, ok := s.byComponent[unit.OriginComponentID()]
	if !ok {
		return false
	}
	return unit.AssignFeedInfo(f.Name, f.ProcessGroupID)
}

// IsStream implements lineage.FeedLookup.
func (s *Static) IsStream(_ context.Context, ev *event.Event) bool {
	return s.streaming[ev.FeedName]
}

// Len returns the number of feeds known.
func (s *Static) Len() int {
	return len(s.streaming)
}
