// Package reporter moves finished trace segments to the collector over a
// client-streaming gRPC call without ever blocking the traced application.
//
// Finished records enter a bounded multi-channel queue (overflow policy:
// reject, the record is abandoned). A single consumer drains batches and,
// while the collector channel is Connected, streams each batch through one
// TraceSegmentReportService.Collect call, then waits a bounded time for the
// collector to finish the stream. Records whose asynchronous parts have not
// landed are parked in a second bounded buffer that re-checks readiness
// every cycle and feeds ready ones back to the main queue.
//
// Delivery is at-most-once: a batch whose completion signal misses the
// window is written off with no retry, and a late signal is discarded.
// Stream-level failures are reported to the channel manager (which rebuilds
// the connection) and never crash the consumer loop; per-record transform
// failures drop only that record.
//
// The reporter keeps uplinked/abandoned counters, flushed to the log every
// FlushInterval and mirrored into Prometheus counters as they happen.
package reporter
