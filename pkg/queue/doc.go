// Package queue provides the bounded multi-channel buffer that decouples
// trace producers from the uplink consumer.
//
// A Queue is a fixed set of FIFO channels (channel count × per-channel
// capacity, both fixed at construction). Submit sweeps the lanes from a
// round-robin starting point and either rejects immediately (IfPossible)
// or suspends the caller until any lane has space (Blocking) when all of
// them are full; Offer is the always-non-blocking form. FIFO order holds
// within a channel; there is deliberately no global order across channels.
//
// Consume starts a single background goroutine that drains bounded batches
// into a Consumer. Shutdown is idempotent: it releases any callers parked
// in a Blocking Submit (they see false), drains the remaining items through
// Consume, then calls the consumer's OnExit hook.
package queue
