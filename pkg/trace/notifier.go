package trace

import "sync"

// Listener observes segment completion. The producer-side context calls
// AfterFinished exactly once per finished segment.
type Listener interface {
	AfterFinished(*Segment)
}

// Notifier fans finished segments out to registered listeners. It replaces
// the original design's global listener manager with an explicit,
// injectable registration list.
type Notifier struct {
	mu        sync.Mutex
	listeners []Listener
}

// AddListener registers l. Listeners are notified in registration order.
func (n *Notifier) AddListener(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// Finish declares s complete and notifies every registered listener.
// Ownership of the segment transfers to the listeners; the only writes the
// producer may still perform are landing late async spans (AddSpan followed
// by EndAsync).
func (n *Notifier) Finish(s *Segment) {
	n.mu.Lock()
	ls := make([]Listener, len(n.listeners))
	copy(ls, n.listeners)
	n.mu.Unlock()

	for _, l := range ls {
		l.AfterFinished(s)
	}
}
