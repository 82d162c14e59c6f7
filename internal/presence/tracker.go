package presence

import "time"

const (
	DefaultSweepInterval    = 15 * time.Second
	DefaultHeartbeatTimeout = 45 * time.Second
)

// Tracker decides which connections have gone silent for too long.
type Tracker struct {
	Interval time.Duration
	Timeout  time.Duration
}

// NewTracker builds a tracker, substituting defaults for non-positive values.
func NewTracker(interval, timeout time.Duration) Tracker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return Tracker{Interval: interval, Timeout: timeout}
}

// Expired lists connections whose last heartbeat is at least Timeout old.
func (t Tracker) Expired(registry *Registry, now time.Time) []int64 {
	var expired []int64
	for _, conn := range registry.Connections() {
		if now.Sub(conn.LastHeartbeat) >= t.Timeout {
			expired = append(expired, conn.ID)
		}
	}
	return expired
}

// Sweep removes every expired connection and returns what was evicted.
func (t Tracker) Sweep(registry *Registry, now time.Time) []Connection {
	expired := t.Expired(registry, now)
	evicted := make([]Connection, 0, len(expired))
	for _, id := range expired {
		if conn, ok := registry.Remove(id); ok {
			evicted = append(evicted, conn)
		}
	}
	return evicted
}
