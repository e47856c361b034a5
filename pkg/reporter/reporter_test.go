package reporter

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	commonv3 "skywalking.apache.org/repo/goapi/collect/common/v3"
	agentv3 "skywalking.apache.org/repo/goapi/collect/language/agent/v3"

	"github.com/liyuyun/incubator-skywalking/pkg/remote"
	"github.com/liyuyun/incubator-skywalking/pkg/trace"
)

// mockCollector implements TraceSegmentReportServiceServer for testing.
type mockCollector struct {
	agentv3.UnimplementedTraceSegmentReportServiceServer
	mu       sync.Mutex
	received []*agentv3.SegmentObject
	delay    time.Duration // wait before finishing the stream
	fail     bool          // finish the stream with an error instead of Commands
}

func (m *mockCollector) Collect(stream agentv3.TraceSegmentReportService_CollectServer) error {
	for {
		seg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.received = append(m.received, seg)
		m.mu.Unlock()
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.fail {
		return status.Error(codes.Unavailable, "collector draining")
	}
	return stream.SendAndClose(&commonv3.Commands{})
}

func (m *mockCollector) segments() []*agentv3.SegmentObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*agentv3.SegmentObject, len(m.received))
	copy(out, m.received)
	return out
}

// startCollector starts an in-process gRPC collector and returns a client
// connection to it.
func startCollector(t *testing.T, srv *mockCollector) *grpc.ClientConn {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	gs := grpc.NewServer()
	agentv3.RegisterTraceSegmentReportServiceServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.DialContext(context.Background(), lis.Addr().String(), //nolint:staticcheck
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// fakeManager is a ChannelManager whose connection the test controls.
type fakeManager struct {
	mu       sync.Mutex
	conn     *grpc.ClientConn
	reported []error
}

func (f *fakeManager) Conn() *grpc.ClientConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *fakeManager) ReportError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = append(f.reported, err)
}

func (f *fakeManager) reportedErrors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]error, len(f.reported))
	copy(out, f.reported)
	return out
}

// fakeRecord is a Record with scripted readiness and transform behavior.
type fakeRecord struct {
	mu    sync.Mutex
	ready bool
	wire  *agentv3.SegmentObject
	err   error
}

func readyRecord(id string) *fakeRecord {
	return &fakeRecord{ready: true, wire: &agentv3.SegmentObject{TraceSegmentId: id}}
}

func (r *fakeRecord) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *fakeRecord) setReady(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = v
}

func (r *fakeRecord) Transform() (*agentv3.SegmentObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wire, r.err
}

// connectedReporter builds a reporter snapshot-bound to srv via a fake
// manager, without starting the consumer loops.
func connectedReporter(t *testing.T, srv *mockCollector, opts Options) (*Reporter, *fakeManager) {
	t.Helper()
	mgr := &fakeManager{conn: startCollector(t, srv)}
	r := New(mgr, opts)
	r.lastFlush = time.Now()
	r.StatusChanged(remote.Connected)
	return r, mgr
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// --- Tests ---

func TestConsume_DisconnectedAbandonsWholeBatch(t *testing.T) {
	srv := &mockCollector{}
	r, _ := connectedReporter(t, srv, Options{})
	r.StatusChanged(remote.Disconnected)

	r.Consume([]Record{readyRecord("a"), readyRecord("b"), readyRecord("c")})

	if r.abandoned != 3 {
		t.Errorf("abandoned = %d, want 3", r.abandoned)
	}
	if r.uplinked != 0 {
		t.Errorf("uplinked = %d, want 0", r.uplinked)
	}
	if got := len(srv.segments()); got != 0 {
		t.Errorf("collector received %d segments while disconnected, want 0", got)
	}
}

func TestConsume_UplinksConnectedBatch(t *testing.T) {
	srv := &mockCollector{}
	r, mgr := connectedReporter(t, srv, Options{})

	r.Consume([]Record{readyRecord("a"), readyRecord("b"), readyRecord("c")})

	if r.uplinked != 3 {
		t.Errorf("uplinked = %d, want 3", r.uplinked)
	}
	if r.abandoned != 0 {
		t.Errorf("abandoned = %d, want 0", r.abandoned)
	}
	got := srv.segments()
	if len(got) != 3 {
		t.Fatalf("collector received %d segments, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].TraceSegmentId != want {
			t.Errorf("segment[%d] = %q, want %q (order violated)", i, got[i].TraceSegmentId, want)
		}
	}
	if errs := mgr.reportedErrors(); len(errs) != 0 {
		t.Errorf("unexpected transport errors reported: %v", errs)
	}
}

func TestConsume_NotReadyRecordGoesToDeferredBuffer(t *testing.T) {
	srv := &mockCollector{}
	r, _ := connectedReporter(t, srv, Options{})

	pending := readyRecord("pending")
	pending.setReady(false)

	r.Consume([]Record{readyRecord("a"), pending, readyRecord("b")})

	if r.uplinked != 2 {
		t.Errorf("uplinked = %d, want 2", r.uplinked)
	}
	if got := len(srv.segments()); got != 2 {
		t.Errorf("collector received %d segments, want 2", got)
	}
	if got := r.deferred.Len(); got != 1 {
		t.Errorf("deferred buffer holds %d records, want 1", got)
	}
}

func TestConsume_TransformErrorSkipsOnlyThatRecord(t *testing.T) {
	srv := &mockCollector{}
	r, mgr := connectedReporter(t, srv, Options{})

	broken := readyRecord("broken")
	broken.err = io.ErrUnexpectedEOF
	broken.wire = nil

	r.Consume([]Record{readyRecord("a"), broken, readyRecord("b")})

	if r.uplinked != 2 {
		t.Errorf("uplinked = %d, want 2", r.uplinked)
	}
	if got := len(srv.segments()); got != 2 {
		t.Errorf("collector received %d segments, want 2", got)
	}
	if errs := mgr.reportedErrors(); len(errs) != 0 {
		t.Errorf("transform error was reported as transport error: %v", errs)
	}
}

func TestConsume_StreamErrorReportedToManager(t *testing.T) {
	srv := &mockCollector{fail: true}
	r, mgr := connectedReporter(t, srv, Options{})

	r.Consume([]Record{readyRecord("a"), readyRecord("b")})

	errs := mgr.reportedErrors()
	if len(errs) == 0 {
		t.Fatal("stream error was not reported to the channel manager")
	}
	if status.Code(errs[0]) != codes.Unavailable {
		t.Errorf("reported code = %v, want Unavailable", status.Code(errs[0]))
	}
	// The stream finished (with an error) inside the window, so the
	// attempted records still count as uplinked. At-most-once bookkeeping,
	// not delivery confirmation.
	if r.uplinked != 2 {
		t.Errorf("uplinked = %d, want 2", r.uplinked)
	}
}

func TestConsume_CompletionTimeoutWritesBatchOff(t *testing.T) {
	srv := &mockCollector{delay: 300 * time.Millisecond}
	r, _ := connectedReporter(t, srv, Options{CompletionWait: 50 * time.Millisecond})

	r.Consume([]Record{readyRecord("a"), readyRecord("b")})

	if r.uplinked != 0 {
		t.Errorf("uplinked = %d after timeout, want 0", r.uplinked)
	}

	// The late completion signal must not be counted either.
	time.Sleep(400 * time.Millisecond)
	if r.uplinked != 0 {
		t.Errorf("uplinked = %d after late completion, want 0", r.uplinked)
	}
}

func TestCheckFlush_ResetsOnlyAfterInterval(t *testing.T) {
	r := New(&fakeManager{}, Options{FlushInterval: 30 * time.Second})

	current := time.Unix(1700000000, 0)
	r.now = func() time.Time { return current }
	r.lastFlush = current
	r.uplinked = 7
	r.abandoned = 2

	// Sub-interval check: nothing resets.
	current = current.Add(29 * time.Second)
	r.checkFlush()
	if r.uplinked != 7 || r.abandoned != 2 {
		t.Fatalf("counters reset below interval: uplinked=%d abandoned=%d", r.uplinked, r.abandoned)
	}

	// At the interval both counters reset and the flush time advances.
	current = current.Add(1 * time.Second)
	r.checkFlush()
	if r.uplinked != 0 || r.abandoned != 0 {
		t.Errorf("counters not reset at interval: uplinked=%d abandoned=%d", r.uplinked, r.abandoned)
	}
	if !r.lastFlush.Equal(current) {
		t.Errorf("lastFlush = %v, want %v", r.lastFlush, current)
	}
}

func TestStatusChanged_RebindsClientOnReconnect(t *testing.T) {
	srv := &mockCollector{}
	conn1 := startCollector(t, srv)
	conn2 := startCollector(t, srv)

	mgr := &fakeManager{conn: conn1}
	r := New(mgr, Options{})

	r.StatusChanged(remote.Connected)
	first := r.link.Load()
	if first.status != remote.Connected || first.client == nil {
		t.Fatal("connected snapshot is torn: status and client must be published together")
	}

	r.StatusChanged(remote.Disconnected)
	if u := r.link.Load(); u.status != remote.Disconnected {
		t.Fatal("disconnect not observed")
	}

	mgr.mu.Lock()
	mgr.conn = conn2
	mgr.mu.Unlock()
	r.StatusChanged(remote.Connected)

	second := r.link.Load()
	if second.client == nil || second.client == first.client {
		t.Error("client was not rebound against the fresh connection")
	}
}

func TestReporter_EndToEndAsyncSegment(t *testing.T) {
	srv := &mockCollector{}
	r, _ := connectedReporter(t, srv, Options{
		Channels:      2,
		ChannelSize:   16,
		BatchSize:     8,
		DeferredPause: 20 * time.Millisecond,
	})
	r.Start()
	defer r.Shutdown()

	// A real segment finished while one async span is still running.
	seg := trace.NewSegment("checkout", "checkout-1")
	seg.AddSpan(trace.Span{Operation: "GET /pay", Start: time.Now(), End: time.Now()})
	seg.StartAsync()
	r.AfterFinished(seg)

	// Not ready yet: the segment must not reach the collector.
	time.Sleep(100 * time.Millisecond)
	if got := len(srv.segments()); got != 0 {
		t.Fatalf("collector received %d segments before readiness, want 0", got)
	}

	seg.EndAsync()
	waitFor(t, 2*time.Second, func() bool { return len(srv.segments()) == 1 })

	got := srv.segments()[0]
	if got.TraceSegmentId != seg.SegmentID() {
		t.Errorf("uploaded segment id = %q, want %q", got.TraceSegmentId, seg.SegmentID())
	}
}

func TestAfterFinished_SkipsIgnoredSegments(t *testing.T) {
	r := New(&fakeManager{}, Options{})

	seg := trace.NewSegment("checkout", "checkout-1")
	seg.AddSpan(trace.Span{Operation: "noop"})
	seg.Ignore()
	r.AfterFinished(seg)

	if got := r.carrier.Len(); got != 0 {
		t.Errorf("ignored segment was enqueued, carrier len = %d", got)
	}
}
