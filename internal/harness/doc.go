// Package harness runs lineage conformance scenarios.
//
// A scenario is an ordered event stream plus assertions. The harness feeds
// the events through a real pipeline and checks what was dispatched.
//
// # Scenario Format
//
//	name: create_then_modify
//	description: "A child event inherits the job of its creating parent"
//	stream:
//	  process_delay: 3s
//	events:
//	  - {event_id: 1, flow_unit_id: U1, event_type: CREATE, component_id: src, at: 0s}
//	  - {event_id: 2, flow_unit_id: U2, event_type: CONTENT_MODIFIED, parent_ids: [U1], component_id: mod, at: 100ms}
//	assertions:
//	  - {type: root_of, flow_unit: U2, root: U1}
//	  - {type: job_event, flow_unit: U2, job_event: 1}
//
// An optional feeds block takes the same shape as the feed map file.
//
// # Assertion Types
//
//   - root_of: every event of flow_unit is stamped with job root
//   - start_of_job: event's start-of-job flag equals expect (default true)
//   - job_event: every event of flow_unit carries job_event as first event id
//   - related_roots: the root's related set equals roots
//   - root_not_found: event was still parked when input ended
//   - label: every event of component (and feed, if set) has label
//   - no_self_loops: no self edges, and every edge recorded on both ends
//
// # Deterministic Testing
//
// The pipeline runs on a testutil.ManualClock starting at testutil.Epoch.
// Before each event is submitted the clock moves to the event's offset and
// due cohorts are released, so cohort boundaries follow the offsets
// exactly. Cohort ids come from a sequential generator. Two runs of the
// same scenario produce byte-identical traces, which RunWithGolden
// compares against testdata/golden.
package harness
