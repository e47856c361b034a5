package trace

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	agentv3 "skywalking.apache.org/repo/goapi/collect/language/agent/v3"
)

// Segment is one completed unit of tracing data pending upload. A segment
// may finish while some of its work is still running asynchronously; such
// a segment is not ready to serialize until every StartAsync has been
// matched by an EndAsync.
type Segment struct {
	traceID   string
	segmentID string
	service   string
	instance  string

	mu    sync.Mutex
	spans []Span

	pending atomic.Int32
	ignored atomic.Bool
}

// NewSegment creates an empty segment with fresh trace and segment IDs for
// the given service identity.
func NewSegment(service, instance string) *Segment {
	return &Segment{
		traceID:   uuid.NewString(),
		segmentID: uuid.NewString(),
		service:   service,
		instance:  instance,
	}
}

func (s *Segment) TraceID() string   { return s.traceID }
func (s *Segment) SegmentID() string { return s.segmentID }

// AddSpan records one finished span. Span IDs are assigned in insertion
// order; the first span added is the segment's root (parent -1).
func (s *Segment) AddSpan(sp Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp.ID = int32(len(s.spans))
	if sp.ID == 0 {
		sp.ParentID = -1
	}
	s.spans = append(s.spans, sp)
}

// StartAsync marks one unit of asynchronous work whose span has not landed
// yet. The segment stays not-ready until a matching EndAsync.
func (s *Segment) StartAsync() {
	s.pending.Add(1)
}

// EndAsync completes one unit of asynchronous work started by StartAsync.
func (s *Segment) EndAsync() {
	s.pending.Add(-1)
}

// Ignore marks the segment as not worth uploading (sampled out).
func (s *Segment) Ignore() {
	s.ignored.Store(true)
}

// Ignored reports whether Ignore was called.
func (s *Segment) Ignored() bool {
	return s.ignored.Load()
}

// IsReady reports whether every asynchronous part of the segment has
// finished, i.e. whether Transform would see the complete span set.
func (s *Segment) IsReady() bool {
	return s.pending.Load() <= 0
}

// Transform serializes the segment to its wire form. Each call builds a
// fresh SegmentObject owned by the caller.
func (s *Segment) Transform() (*agentv3.SegmentObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.spans) == 0 {
		return nil, fmt.Errorf("trace: transform segment %s: no spans", s.segmentID)
	}
	obj := &agentv3.SegmentObject{
		TraceId:         s.traceID,
		TraceSegmentId:  s.segmentID,
		Service:         s.service,
		ServiceInstance: s.instance,
	}
	for i := range s.spans {
		obj.Spans = append(obj.Spans, s.spans[i].wire())
	}
	return obj, nil
}
