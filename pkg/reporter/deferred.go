package reporter

import (
	"log/slog"
	"time"

	"github.com/liyuyun/incubator-skywalking/internal/metrics"
)

// deferredConsumer drains the deferred-readiness buffer. Each cycle it
// partitions the batch: records that have become ready move to the main
// queue, the rest go back into the deferred buffer for the next cycle.
//
// Re-offering must never block: this goroutine is the only one draining
// the buffer, so parking it in a Blocking submit against its own queue
// would wedge the whole pipeline. When every lane is momentarily full the
// record is carried in held instead; the buffer is full at that point, so
// the consumer loop is guaranteed another cycle to re-offer it.
type deferredConsumer struct {
	r *Reporter

	// held carries not-ready records that could not be re-offered.
	// Touched only from the buffer's consumer goroutine.
	held []Record
}

func (d *deferredConsumer) Consume(batch []Record) {
	if len(d.held) > 0 {
		batch = append(d.held, batch...)
		d.held = nil
	}

	stillWaiting := false
	for _, rec := range batch {
		if rec.IsReady() {
			// Forwarding must never block: the main queue rejects
			// instead, and the record is abandoned.
			if !d.r.carrier.Submit(rec) {
				metrics.QueueRejections.Inc()
				slog.Debug("reporter: uplink buffer full, dropping ready segment from deferred buffer")
			}
			continue
		}
		stillWaiting = true
		if !d.r.deferred.Offer(rec) {
			d.held = append(d.held, rec)
		}
	}

	if stillWaiting {
		// Asynchronous spans take a while to land; without this pause a
		// not-ready record would bounce through the buffer in a hot loop.
		time.Sleep(d.r.opts.DeferredPause)
	}
}

func (d *deferredConsumer) OnExit() {
	if n := len(d.held); n > 0 {
		slog.Debug("reporter: dropping unfinished segments at shutdown", "count", n)
	}
}
