package reporter

import (
	"testing"
	"time"
)

func TestDeferred_PartitionsBatch(t *testing.T) {
	r := New(&fakeManager{}, Options{Channels: 1, ChannelSize: 8, BatchSize: 4})
	d := &deferredConsumer{r: r}

	ready := readyRecord("ready")
	waiting := readyRecord("waiting")
	waiting.setReady(false)

	d.Consume([]Record{ready, waiting})

	if got := r.carrier.Len(); got != 1 {
		t.Errorf("carrier holds %d records, want 1 (the ready one)", got)
	}
	if got := r.deferred.Len(); got != 1 {
		t.Errorf("deferred buffer holds %d records, want 1 (the waiting one)", got)
	}
}

func TestDeferred_PausesOnlyWhenRecordsStillWaiting(t *testing.T) {
	r := New(&fakeManager{}, Options{Channels: 1, ChannelSize: 8, DeferredPause: 60 * time.Millisecond})
	d := &deferredConsumer{r: r}

	start := time.Now()
	d.Consume([]Record{readyRecord("a"), readyRecord("b")})
	if elapsed := time.Since(start); elapsed >= 60*time.Millisecond {
		t.Errorf("all-ready batch paused for %v", elapsed)
	}

	waiting := readyRecord("w")
	waiting.setReady(false)
	start = time.Now()
	d.Consume([]Record{waiting})
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("batch with waiting record paused only %v, want >= 60ms", elapsed)
	}
}

func TestDeferred_FullMainQueueDropsInsteadOfBlocking(t *testing.T) {
	r := New(&fakeManager{}, Options{Channels: 1, ChannelSize: 1, BatchSize: 1})
	d := &deferredConsumer{r: r}

	if !r.carrier.Submit(readyRecord("occupant")) {
		t.Fatal("could not fill the main queue")
	}

	done := make(chan struct{})
	go func() {
		d.Consume([]Record{readyRecord("extra")})
		close(done)
	}()

	// Forwarding must reject immediately rather than park the cycle.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("deferred consumer blocked forwarding into a full main queue")
	}
	if got := r.carrier.Len(); got != 1 {
		t.Errorf("carrier len = %d, want 1 (rejected record dropped)", got)
	}
}

func TestDeferred_FullBufferDoesNotWedgeConsumer(t *testing.T) {
	// Fill every lane of a small deferred buffer with not-ready records,
	// then let the consumer churn. Re-offering the remainder of a batch
	// can momentarily find all lanes full; the consumer must carry those
	// records to the next cycle rather than park in a blocking submit
	// against its own queue — nothing else drains it.
	r := New(&fakeManager{}, Options{Channels: 2, ChannelSize: 2, BatchSize: 2, DeferredPause: 10 * time.Millisecond})

	recs := make([]*fakeRecord, 4)
	for i := range recs {
		recs[i] = readyRecord("wedge")
		recs[i].setReady(false)
		if !r.deferred.Submit(recs[i]) {
			t.Fatalf("could not fill deferred buffer at record %d", i)
		}
	}

	r.deferred.Consume(&deferredConsumer{r: r}, r.opts.BatchSize)
	defer r.deferred.Shutdown()

	// Let the consumer cycle the full buffer a few times first.
	time.Sleep(100 * time.Millisecond)

	for _, rec := range recs {
		rec.setReady(true)
	}

	waitFor(t, 3*time.Second, func() bool { return r.carrier.Len() == 4 })
}

func TestDeferred_ReadinessFlipForwardedWithinOneCycle(t *testing.T) {
	r := New(&fakeManager{}, Options{Channels: 1, ChannelSize: 8, BatchSize: 4, DeferredPause: 20 * time.Millisecond})
	r.deferred.Consume(&deferredConsumer{r: r}, r.opts.BatchSize)
	defer r.deferred.Shutdown()

	rec := readyRecord("flip")
	rec.setReady(false)
	if !r.deferred.Submit(rec) {
		t.Fatal("deferred submit rejected")
	}

	// Let it bounce a few cycles while not ready.
	time.Sleep(80 * time.Millisecond)
	if got := r.carrier.Len(); got != 0 {
		t.Fatalf("not-ready record reached the main queue, carrier len = %d", got)
	}

	rec.setReady(true)
	waitFor(t, time.Second, func() bool { return r.carrier.Len() == 1 })
}
