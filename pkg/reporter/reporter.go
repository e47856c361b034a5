package reporter

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	agentv3 "skywalking.apache.org/repo/goapi/collect/language/agent/v3"

	"github.com/liyuyun/incubator-skywalking/internal/metrics"
	"github.com/liyuyun/incubator-skywalking/pkg/queue"
	"github.com/liyuyun/incubator-skywalking/pkg/remote"
	"github.com/liyuyun/incubator-skywalking/pkg/trace"
)

// Record is one unit of observability data pending upload. A record may be
// submitted before its asynchronous parts have finished; IsReady gates
// serialization. Transform builds a fresh wire object per call.
type Record interface {
	IsReady() bool
	Transform() (*agentv3.SegmentObject, error)
}

// ChannelManager is the collaborator that owns the collector connection.
// *remote.Manager satisfies it; tests substitute their own.
type ChannelManager interface {
	Conn() *grpc.ClientConn
	ReportError(err error)
}

// Options configures the reporter's buffers and protocol timing.
type Options struct {
	// Channels and ChannelSize fix the geometry of both bounded buffers.
	Channels    int
	ChannelSize int

	// BatchSize bounds how many records one upload stream carries.
	BatchSize int

	// CompletionWait bounds how long a batch waits for the collector to
	// finish the stream before the batch is written off.
	CompletionWait time.Duration

	// FlushInterval is the telemetry log cadence.
	FlushInterval time.Duration

	// DeferredPause is the pause between deferred-buffer cycles that
	// still contained a not-ready record.
	DeferredPause time.Duration
}

const (
	DefaultChannels       = 5
	DefaultChannelSize    = 300
	DefaultBatchSize      = 50
	DefaultCompletionWait = 30 * time.Second
	DefaultFlushInterval  = 30 * time.Second
	defaultDeferredPause  = 50 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Channels <= 0 {
		o.Channels = DefaultChannels
	}
	if o.ChannelSize <= 0 {
		o.ChannelSize = DefaultChannelSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.CompletionWait <= 0 {
		o.CompletionWait = DefaultCompletionWait
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.DeferredPause <= 0 {
		o.DeferredPause = defaultDeferredPause
	}
	return o
}

// uplink is the snapshot the upload consumer takes before each batch:
// status and stream client are published together in one pointer swap so a
// reader can never see Connected paired with a stale client.
type uplink struct {
	status remote.Status
	client agentv3.TraceSegmentReportServiceClient
}

// Reporter is the uplink pipeline core: a main bounded queue whose single
// consumer streams batches to the collector, a deferred buffer for records
// whose asynchronous parts are still running, and uplinked/abandoned
// telemetry counters.
type Reporter struct {
	opts Options
	mgr  ChannelManager

	carrier  *queue.Queue[Record]
	deferred *queue.Queue[Record]

	link atomic.Pointer[uplink]

	// Counters below are owned by the carrier's consumer goroutine; no
	// other goroutine touches them.
	uplinked  int64
	abandoned int64
	lastFlush time.Time

	now func() time.Time
}

// New creates a Reporter bound to mgr. Register it on the manager's
// listener list and call Start before producing.
func New(mgr ChannelManager, opts Options) *Reporter {
	opts = opts.withDefaults()
	r := &Reporter{
		opts: opts,
		mgr:  mgr,
		now:  time.Now,
	}
	r.carrier = queue.New[Record](opts.Channels, opts.ChannelSize, queue.IfPossible)
	r.deferred = queue.New[Record](opts.Channels, opts.ChannelSize, queue.Blocking)
	return r
}

// Start launches both consumer loops.
func (r *Reporter) Start() {
	r.lastFlush = r.now()
	r.deferred.Consume(&deferredConsumer{r: r}, r.opts.BatchSize)
	r.carrier.Consume(r, r.opts.BatchSize)
}

// Shutdown stops both buffers: the deferred buffer first, so its final
// drain can still forward ready records into the main queue, then the main
// queue, whose final drain runs the usual upload path. Idempotent.
func (r *Reporter) Shutdown() {
	r.deferred.Shutdown()
	r.carrier.Shutdown()
}

// Enqueue hands one record to the pipeline. Ownership transfers on
// submission. A full main buffer abandons the record immediately; that is
// the price of never blocking the traced application.
func (r *Reporter) Enqueue(rec Record) {
	if !r.carrier.Submit(rec) {
		metrics.QueueRejections.Inc()
		slog.Debug("reporter: segment abandoned, uplink buffer full")
	}
}

// AfterFinished implements trace.Listener: finished segments flow straight
// into the pipeline unless they were sampled out.
func (r *Reporter) AfterFinished(s *trace.Segment) {
	if s.Ignored() {
		return
	}
	r.Enqueue(s)
}

// StatusChanged implements remote.Listener. On Connected it rebinds the
// stream client against the manager's current connection; the status and
// the client are published in a single swap.
func (r *Reporter) StatusChanged(s remote.Status) {
	if s == remote.Connected {
		if conn := r.mgr.Conn(); conn != nil {
			r.link.Store(&uplink{
				status: remote.Connected,
				client: agentv3.NewTraceSegmentReportServiceClient(conn),
			})
			return
		}
	}
	r.link.Store(&uplink{status: remote.Disconnected})
}

// Consume implements queue.Consumer for the main queue: one streaming
// upload per batch when connected, abandonment when not, telemetry check
// on every path.
func (r *Reporter) Consume(batch []Record) {
	defer r.checkFlush()

	u := r.link.Load()
	if u == nil || u.status != remote.Connected {
		r.abandoned += int64(len(batch))
		metrics.SegmentsAbandoned.Add(float64(len(batch)))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := u.client.Collect(ctx)
	if err != nil {
		slog.Error("reporter: open collect stream failed", "err", err)
		r.mgr.ReportError(err)
		return
	}

	attempted := 0
	for _, rec := range batch {
		if !rec.IsReady() {
			// Readiness can flip between enqueue and send; park the
			// record until its asynchronous parts land.
			if !r.deferred.Submit(rec) {
				slog.Debug("reporter: dropping unfinished segment, deferred buffer closed")
			}
			continue
		}
		wire, err := rec.Transform()
		if err != nil {
			metrics.TransformErrors.Inc()
			slog.Error("reporter: transform failed, skipping segment", "err", err)
			continue
		}
		if err := stream.Send(wire); err != nil {
			slog.Error("reporter: send to collector failed", "err", err)
			r.mgr.ReportError(err)
			break
		}
		attempted++
	}

	// Half-close and wait for the collector to finish the stream, with a
	// bound. A batch whose acknowledgment misses the window is written
	// off; a late acknowledgment is discarded, never counted.
	finished := make(chan error, 1)
	go func() {
		_, err := stream.CloseAndRecv()
		finished <- err
	}()

	select {
	case err := <-finished:
		if err != nil {
			slog.Error("reporter: collect stream closed with error", "err", err)
			r.mgr.ReportError(err)
		}
		if attempted > 0 {
			r.uplinked += int64(attempted)
			metrics.SegmentsUplinked.Add(float64(attempted))
		}
	case <-time.After(r.opts.CompletionWait):
		slog.Warn("reporter: collector did not finish stream in time, batch written off",
			"attempted", attempted, "wait", r.opts.CompletionWait)
	}
}

// OnExit implements queue.Consumer.
func (r *Reporter) OnExit() {}

// checkFlush logs and resets the uplink counters once FlushInterval has
// elapsed since the previous flush. Best effort only.
func (r *Reporter) checkFlush() {
	now := r.now()
	if now.Sub(r.lastFlush) < r.opts.FlushInterval {
		return
	}
	r.lastFlush = now
	if r.uplinked > 0 {
		slog.Info("reporter: segments uplinked to collector", "count", r.uplinked)
		r.uplinked = 0
	}
	if r.abandoned > 0 {
		slog.Info("reporter: segments abandoned, no collector channel", "count", r.abandoned)
		r.abandoned = 0
	}
}
