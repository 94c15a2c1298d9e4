// Package event defines the normalized flow event consumed by the lineage
// pipeline.
//
// An Event describes one occurrence on a flow unit (a traceable item of data
// moving through a processing graph). Source systems supply the identity
// fields: EventID, FlowUnitID, Type, ParentIDs, ChildIDs, ComponentID and
// EventTime. The remaining fields are derived by the pipeline:
//
//   - the lineage builder stamps job identity (JobFlowUnitID, JobEventID),
//     start/end of job markers, related roots and feed metadata
//   - the classifier stamps the Stream label
//
// # Wire Format
//
// Events travel as JSON Lines, one object per line:
//
//	{"event_id":1,"flow_unit_id":"ff-1","event_type":"CREATE","component_id":"proc-a","event_time":"2026-01-02T15:04:05Z"}
//	{"event_id":2,"flow_unit_id":"ff-2","event_type":"FORK","parent_ids":["ff-1"],"component_id":"proc-b","event_time":"2026-01-02T15:04:06Z"}
//
// Job identity, once stamped, never changes for a given event.
package event
