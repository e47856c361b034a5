// Package trace holds the minimal segment model the uplink pipeline moves:
// a Segment is a set of finished spans under uuid trace/segment IDs, with a
// pending-async count that gates readiness for serialization, and a
// Transform that produces the SkyWalking v3 SegmentObject wire form.
//
// Notifier is the completion fan-out: producers call Finish once per
// segment and every registered Listener (typically the reporter) receives
// it. Segment construction and correlation beyond this is out of scope.
package trace
