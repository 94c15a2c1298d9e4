// Package lineage reconstructs job ancestry from provenance events.
//
// A job starts at a root flow unit: the subject of a CREATE or RECEIVE
// event with no parents. Every unit derived from it through FORK, JOIN or
// CLONE events inherits the root's id. The Builder wires parent and child
// edges into a Registry, resolves the root for each event, and stamps the
// event with its job fields (root id, first event id, feed metadata).
//
// # Related roots
//
// When one unit descends from two different roots, the jobs merge: each
// root records the other in its related set. The relation is kept
// symmetric and transitively closed.
//
// # Job completion
//
// A root tracks the descendants still in flight. A DROP or EXPIRE event
// ends a unit; once the root itself has ended and no children remain
// active, the job is complete and the ending event is stamped
// IsEndOfJob. Completed jobs can be evicted with Registry.RetireCompleted.
//
// # Errors
//
// Link returns an *Error with ErrCodeRootNotFound when no ancestor has been
// marked as a root yet, typically because events arrived out of order.
// Feed assignment failures are reported through the Observer only.
package lineage
