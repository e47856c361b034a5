package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// idlePause is how long the consumer loop sleeps when every channel is
// empty, so an idle queue does not spin.
const idlePause = 20 * time.Millisecond

// blockedRetry is how often a Blocking Submit re-sweeps the lanes while
// waiting for space. Space can open on any lane, not just the one the
// round-robin cursor picked first, so a blocked submitter must keep
// re-checking all of them rather than parking on a single channel send.
const blockedRetry = 5 * time.Millisecond

// Policy controls what Submit does when the selected channel is full.
type Policy int

const (
	// IfPossible rejects the item immediately: Submit returns false and
	// the caller decides whether to drop or log.
	IfPossible Policy = iota

	// Blocking suspends the caller until space frees up or the queue is
	// shut down. Shutdown releases blocked callers with a false result.
	Blocking
)

// Consumer receives batches drained from the queue. Consume is always
// invoked from the queue's single consumer goroutine, so implementations
// need no locking for state they only touch from Consume. OnExit runs once,
// after the final drain during shutdown.
type Consumer[T any] interface {
	Consume(batch []T)
	OnExit()
}

// Queue is a fixed-capacity, multi-channel FIFO buffer. Items are spread
// across channels round-robin; each channel preserves submission order, and
// no channel ever holds more than its configured capacity. One background
// goroutine, started by Consume, drains batches into a registered Consumer.
type Queue[T any] struct {
	policy   Policy
	channels []chan T
	cursor   atomic.Uint64
	batchMax int

	done     chan struct{}
	stopped  chan struct{}
	started  atomic.Bool
	shutdown sync.Once
}

// New creates a queue with the given channel count and per-channel capacity.
// It holds nothing and consumes nothing until Consume is called.
func New[T any](channels, capacity int, policy Policy) *Queue[T] {
	if channels < 1 {
		channels = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		policy:  policy,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	q.channels = make([]chan T, channels)
	for i := range q.channels {
		q.channels[i] = make(chan T, capacity)
	}
	return q
}

// Offer attempts a non-blocking submit regardless of policy. It sweeps the
// lanes starting at the round-robin cursor and returns false only when
// every lane is full or the queue has been shut down.
func (q *Queue[T]) Offer(item T) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	start := int(q.cursor.Add(1) % uint64(len(q.channels)))
	for i := 0; i < len(q.channels); i++ {
		select {
		case q.channels[(start+i)%len(q.channels)] <- item:
			return true
		default:
		}
	}
	return false
}

// Submit offers one item to the queue. It returns true when the item was
// accepted. Under IfPossible a fully occupied queue causes an immediate
// false; under Blocking the call suspends until some lane frees up or
// Shutdown runs, in which case it returns false.
func (q *Queue[T]) Submit(item T) bool {
	if q.policy != Blocking {
		return q.Offer(item)
	}
	for {
		if q.Offer(item) {
			return true
		}
		select {
		case <-q.done:
			return false
		case <-time.After(blockedRetry):
		}
	}
}

// Consume registers c and starts the background consumer loop. Batches
// handed to c contain at most batchMax items. Consume must be called at
// most once per queue.
func (q *Queue[T]) Consume(c Consumer[T], batchMax int) {
	if batchMax < 1 {
		batchMax = 1
	}
	if !q.started.CompareAndSwap(false, true) {
		panic("queue: Consume called twice")
	}
	q.batchMax = batchMax
	go q.loop(c)
}

func (q *Queue[T]) loop(c Consumer[T]) {
	defer close(q.stopped)

	for {
		select {
		case <-q.done:
			// Final drain: hand everything still buffered to the
			// consumer before the exit hook. A Submit racing the
			// shutdown close can land an item just after a sweep came
			// back empty, so only stop after two empty sweeps in a row.
			empty := 0
			for empty < 2 {
				batch := q.poll()
				if len(batch) == 0 {
					empty++
					continue
				}
				empty = 0
				c.Consume(batch)
			}
			c.OnExit()
			return
		default:
		}

		batch := q.poll()
		if len(batch) == 0 {
			select {
			case <-q.done:
			case <-time.After(idlePause):
			}
			continue
		}
		c.Consume(batch)
	}
}

// poll collects up to batchMax buffered items without blocking, visiting
// channels in order so no channel is starved for long.
func (q *Queue[T]) poll() []T {
	var batch []T
	for _, ch := range q.channels {
		draining := true
		for draining && len(batch) < q.batchMax {
			select {
			case item := <-ch:
				batch = append(batch, item)
			default:
				draining = false
			}
		}
		if len(batch) == q.batchMax {
			break
		}
	}
	return batch
}

// Shutdown stops the queue. Blocked Submit calls are released with a false
// result, the consumer loop drains whatever is still buffered and runs the
// consumer's OnExit hook, and Shutdown returns once that has happened.
// Calling Shutdown more than once is safe. A submission racing Shutdown is
// either drained normally or rejected with false; after Shutdown returns,
// all submissions are rejected.
func (q *Queue[T]) Shutdown() {
	q.shutdown.Do(func() { close(q.done) })
	if q.started.Load() {
		<-q.stopped
	}
}

// Len reports the number of currently buffered items across all channels.
func (q *Queue[T]) Len() int {
	n := 0
	for _, ch := range q.channels {
		n += len(ch)
	}
	return n
}
