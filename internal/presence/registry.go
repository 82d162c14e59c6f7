// Package presence tracks live connections, the identities they claim and their
// heartbeat liveness.
package presence

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Status mirrors the presence state reported by a client.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// ParseStatus validates a client-supplied status value.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusOnline:
		return StatusOnline, true
	case StatusAway:
		return StatusAway, true
	case StatusOffline:
		return StatusOffline, true
	default:
		return "", false
	}
}

const (
	// RejectReasonUserTaken is reported when another live connection holds the identity.
	RejectReasonUserTaken = "user_taken"
	// RejectReasonUnknownConnection is reported when the connection is no longer registered.
	RejectReasonUnknownConnection = "unknown_connection"
	// RejectReasonEmptyUser is reported when no identity was supplied.
	RejectReasonEmptyUser = "empty_user"
)

// Connection is the registry's view of one accepted transport connection.
type Connection struct {
	ID            int64
	UserID        string
	Status        Status
	LastHeartbeat time.Time
	ConnectedAt   time.Time
}

// Registered reports whether the connection has claimed an identity.
func (c Connection) Registered() bool {
	return c.UserID != ""
}

// UserPresence is one entry of the users list in a state snapshot.
type UserPresence struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// RegisterResult captures the outcome of an identity claim.
type RegisterResult struct {
	Accepted bool
	Reason   string
	TakenIDs []string
	// Released holds the identity the connection held before switching to a new one.
	Released string
}

// Registry owns every live Connection. It is not safe for concurrent use; a single
// event loop owns it.
type Registry struct {
	connections map[int64]*Connection
	owners      map[string]int64
	nextID      int64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[int64]*Connection),
		owners:      make(map[string]int64),
	}
}

// Accept allocates a new unregistered connection and returns its id.
func (r *Registry) Accept(now time.Time) int64 {
	r.nextID++
	r.connections[r.nextID] = &Connection{
		ID:            r.nextID,
		Status:        StatusOnline,
		LastHeartbeat: now,
		ConnectedAt:   now,
	}
	return r.nextID
}

// ClaimedIDs returns the identities bound to live connections, in connection order.
func (r *Registry) ClaimedIDs() []string {
	claimed := make([]string, 0, len(r.owners))
	for _, id := range r.orderedIDs() {
		if userID := r.connections[id].UserID; userID != "" {
			claimed = append(claimed, userID)
		}
	}
	return claimed
}

// Register binds userID to the connection unless another live connection holds it.
func (r *Registry) Register(connectionID int64, userID string) RegisterResult {
	conn, ok := r.connections[connectionID]
	if !ok {
		return RegisterResult{Reason: RejectReasonUnknownConnection, TakenIDs: r.ClaimedIDs()}
	}
	if userID == "" {
		return RegisterResult{Reason: RejectReasonEmptyUser, TakenIDs: r.ClaimedIDs()}
	}
	if owner, taken := r.owners[userID]; taken && owner != connectionID {
		return RegisterResult{Reason: RejectReasonUserTaken, TakenIDs: r.ClaimedIDs()}
	}

	result := RegisterResult{Accepted: true}
	if conn.UserID != "" && conn.UserID != userID {
		delete(r.owners, conn.UserID)
		result.Released = conn.UserID
	}
	conn.UserID = userID
	r.owners[userID] = connectionID
	return result
}

// TouchHeartbeat records liveness for the connection.
func (r *Registry) TouchHeartbeat(connectionID int64, now time.Time) bool {
	conn, ok := r.connections[connectionID]
	if !ok {
		return false
	}
	conn.LastHeartbeat = now
	return true
}

// SetStatus updates the reported status of a registered connection.
func (r *Registry) SetStatus(connectionID int64, status Status) bool {
	conn, ok := r.connections[connectionID]
	if !ok || !conn.Registered() {
		return false
	}
	conn.Status = status
	return true
}

// Remove deletes the connection and releases its identity.
func (r *Registry) Remove(connectionID int64) (Connection, bool) {
	conn, ok := r.connections[connectionID]
	if !ok {
		return Connection{}, false
	}
	delete(r.connections, connectionID)
	if conn.UserID != "" && r.owners[conn.UserID] == connectionID {
		delete(r.owners, conn.UserID)
	}
	return *conn, true
}

// Get returns a copy of the connection.
func (r *Registry) Get(connectionID int64) (Connection, bool) {
	conn, ok := r.connections[connectionID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.connections)
}

// Connections returns copies of all live connections in connection order.
func (r *Registry) Connections() []Connection {
	out := make([]Connection, 0, len(r.connections))
	for _, id := range r.orderedIDs() {
		out = append(out, *r.connections[id])
	}
	return out
}

// Users returns the presence entries of registered connections in connection order.
func (r *Registry) Users() []UserPresence {
	users := make([]UserPresence, 0, len(r.owners))
	for _, id := range r.orderedIDs() {
		conn := r.connections[id]
		if !conn.Registered() {
			continue
		}
		status := conn.Status
		if status == "" {
			status = StatusOnline
		}
		users = append(users, UserPresence{ID: conn.UserID, Status: status})
	}
	return users
}

func (r *Registry) orderedIDs() []int64 {
	return slices.Sorted(maps.Keys(r.connections))
}
