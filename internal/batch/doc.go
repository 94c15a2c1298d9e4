// Package batch holds raw events for a fixed delay so that events
// belonging to the same burst are released together as one cohort.
package batch
