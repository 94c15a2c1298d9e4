// Package pipeline wires the lineage builder, the delayed queue, the
// classifier and a dispatcher into one processing pipeline.
//
// Producers call Submit from any goroutine. Each event is linked into the
// ancestry graph immediately, then waits in the queue for the process
// delay. A single consumer (Run) drains due events as a cohort, labels
// them stream or batch and hands the resulting Batch to the dispatcher.
//
// Events whose job root is not known yet are parked in a holding area
// indexed by the unit ids they reference. Every successful link retries
// the parked events waiting on the ids it touched. Parked events that
// outlive the TTL, exhaust their attempts, or are pushed out by a full
// holding area are abandoned: logged at error level, counted, and marked
// in the optional ParkedStore.
package pipeline
