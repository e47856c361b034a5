package remote

// Status is the connectivity state of the collector channel. There are no
// intermediate states: the manager is either holding a usable connection or
// it is not.
type Status int

const (
	Disconnected Status = iota
	Connected
)

func (s Status) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Listener is notified on every channel status transition. Implementations
// that need the fresh connection handle read it from the Manager inside
// StatusChanged; the manager guarantees the handle is already swapped when
// a Connected notification fires.
type Listener interface {
	StatusChanged(Status)
}
