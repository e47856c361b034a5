package trace

import (
	"time"

	commonv3 "skywalking.apache.org/repo/goapi/collect/common/v3"
	agentv3 "skywalking.apache.org/repo/goapi/collect/language/agent/v3"
)

// SpanKind classifies a span within its segment.
type SpanKind int

const (
	SpanEntry SpanKind = iota
	SpanExit
	SpanLocal
)

// Span is one finished operation inside a Segment. Spans are value types;
// producers fill one in and hand it to Segment.AddSpan once the operation
// has ended.
type Span struct {
	ID        int32
	ParentID  int32
	Operation string
	Peer      string
	Kind      SpanKind
	Component int32
	Start     time.Time
	End       time.Time
	Failed    bool
	Tags      map[string]string
}

func (k SpanKind) wire() agentv3.SpanType {
	switch k {
	case SpanExit:
		return agentv3.SpanType_Exit
	case SpanLocal:
		return agentv3.SpanType_Local
	default:
		return agentv3.SpanType_Entry
	}
}

func (s *Span) wire() *agentv3.SpanObject {
	obj := &agentv3.SpanObject{
		SpanId:        s.ID,
		ParentSpanId:  s.ParentID,
		StartTime:     s.Start.UnixMilli(),
		EndTime:       s.End.UnixMilli(),
		OperationName: s.Operation,
		Peer:          s.Peer,
		SpanType:      s.Kind.wire(),
		SpanLayer:     agentv3.SpanLayer_Unknown,
		ComponentId:   s.Component,
		IsError:       s.Failed,
	}
	for k, v := range s.Tags {
		obj.Tags = append(obj.Tags, &commonv3.KeyStringValuePair{Key: k, Value: v})
	}
	return obj
}
