// Package remote manages the gRPC channel to the trace collector.
//
// Manager dials the collector, redials with truncated exponential backoff
// (1s→30s, ±25% jitter), and broadcasts Connected/Disconnected transitions
// to registered Listeners. The connection handle is replaced wholesale on
// every reconnect and is always in place before the Connected notification
// fires, so listeners can rebind their stubs inside StatusChanged without
// racing the swap.
//
// ReportError is the feedback path from the upload consumer: transient
// transport codes (Unavailable, DeadlineExceeded, ...) tear the channel
// down and redial; permanent codes (InvalidArgument, Unauthenticated,
// PermissionDenied) are logged and leave the channel alone.
//
// SetAddress supports config hot-reload by adopting a new collector target
// and forcing a reconnect. The dialFn field is injectable for tests.
package remote
