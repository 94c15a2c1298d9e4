// Package store provides SQLite-backed storage for parked events.
//
// An event is parked when its job root cannot be resolved yet. The
// pipeline keeps parked events in memory and retries them as ancestors
// arrive; this store mirrors that holding area so operators can see what
// is waiting and what was abandoned.
//
// Rows move through three statuses:
//   - parked: waiting for an ancestor
//   - resolved: linked on a later attempt
//   - abandoned: gave up after the TTL or attempt limit
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Listings are ordered by parked_at, then event_id, so output is stable.
// Purge trims settled rows; rows still parked are kept.
package store
