package remote

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/liyuyun/incubator-skywalking/internal/metrics"
)

const (
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second
)

// dialFunc opens a gRPC connection to the collector.
// Abstracted so tests can point the manager at an in-process server.
type dialFunc func(ctx context.Context, target string) (*grpc.ClientConn, error)

// Manager owns the client connection to the collector and drives the
// Connected/Disconnected lifecycle. Consumers register a Listener and read
// the current handle with Conn; ReportError feeds transport failures back
// in so the connection can be rebuilt.
type Manager struct {
	mu        sync.Mutex
	address   string
	conn      *grpc.ClientConn
	stat      Status
	listeners []Listener

	reconnect chan struct{}
	dialFn    dialFunc
}

// NewManager creates a manager for the given collector address (host:port).
// Nothing is dialed until Run.
func NewManager(address string) *Manager {
	return &Manager{
		address:   address,
		reconnect: make(chan struct{}, 1),
		dialFn:    defaultDial,
	}
}

// AddListener registers l for status notifications. Register listeners
// before Run so the first Connected transition is observed.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Conn returns the current connection handle, or nil while disconnected.
// The handle is replaced wholesale on reconnect; callers must take a fresh
// reference per use and never cache one across batches.
func (m *Manager) Conn() *grpc.ClientConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Status returns the current channel status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stat
}

// SetAddress switches the manager to a new collector address. If the
// address actually changed, the current connection is torn down and redialed
// against the new target.
func (m *Manager) SetAddress(address string) {
	m.mu.Lock()
	changed := address != "" && address != m.address
	if changed {
		m.address = address
	}
	m.mu.Unlock()
	if changed {
		slog.Info("remote: collector address changed, reconnecting", "address", address)
		m.requestReconnect()
	}
}

// ReportError is the feedback path for stream-level failures seen by the
// upload consumer. Transient transport codes schedule a reconnect;
// permanent ones mean the payload, not the channel, is at fault, so the
// connection is left alone.
func (m *Manager) ReportError(err error) {
	if err == nil {
		return
	}
	if isPermanentError(err) {
		slog.Error("remote: permanent collector error, keeping channel", "err", err)
		return
	}
	slog.Warn("remote: transport error reported, scheduling reconnect", "err", err)
	m.requestReconnect()
}

func (m *Manager) requestReconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// Run dials the collector and keeps the channel alive until ctx is
// cancelled, redialing with truncated exponential backoff after failures
// and whenever a reconnect has been requested. Listeners see a
// Disconnected notification before teardown and a Connected one after each
// successful (re)dial.
func (m *Manager) Run(ctx context.Context) error {
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		m.mu.Lock()
		target := m.address
		m.mu.Unlock()

		conn, err := m.dialFn(ctx, target)
		if err != nil {
			wait := retryDelay(failures)
			failures++
			slog.Error("remote: dial failed, will retry",
				"address", target, "attempt", failures, "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
				continue
			}
		}

		failures = 0
		m.transition(Connected, conn)
		slog.Info("remote: collector channel established", "address", target)

		select {
		case <-ctx.Done():
			m.transition(Disconnected, nil)
			conn.Close()
			return nil
		case <-m.reconnect:
			metrics.Reconnects.Inc()
			m.transition(Disconnected, nil)
			conn.Close()
		}
	}
}

// transition swaps the handle and status together, then notifies listeners
// outside the lock. The handle is already in place when StatusChanged runs,
// so a listener reacting to Connected can never pick up a stale connection.
func (m *Manager) transition(s Status, conn *grpc.ClientConn) {
	m.mu.Lock()
	m.stat = s
	m.conn = conn
	ls := make([]Listener, len(m.listeners))
	copy(ls, m.listeners)
	m.mu.Unlock()

	for _, l := range ls {
		l.StatusChanged(s)
	}
}

// isPermanentError returns true for gRPC codes that indicate the request
// itself is invalid and reconnecting would not help.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a plaintext connection to the collector.
func defaultDial(ctx context.Context, target string) (*grpc.ClientConn, error) {
	return grpc.DialContext(ctx, target, //nolint:staticcheck // DialContext kept for grpc 1.62 compat
		grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// retryDelay returns how long to wait before dial attempt n+1, doubling
// from backoffInitial up to backoffMax. The jitter keeps the result in
// [base/2, base] so restarting agents do not redial in lockstep.
func retryDelay(failures int) time.Duration {
	base := backoffInitial
	for i := 0; i < failures && base < backoffMax; i++ {
		base *= 2
	}
	if base > backoffMax {
		base = backoffMax
	}
	half := int64(base / 2)
	return time.Duration(half + rand.Int63n(half+1)) //nolint:gosec // scheduling jitter, not crypto
}
