// Package journal keeps an audit trail of presence and activity events. Events are
// never replayed into live state.
package journal

// Kind names an audited event.
type Kind string

const (
	KindConnected        Kind = "connected"
	KindRegistered       Kind = "registered"
	KindRegisterRejected Kind = "register_rejected"
	KindStatusChanged    Kind = "status_changed"
	KindDisconnected     Kind = "disconnected"
	KindEvicted          Kind = "evicted"
	KindActivityCreated  Kind = "activity_created"
	KindActivityUpdated  Kind = "activity_updated"
	KindActivityDeleted  Kind = "activity_deleted"
	KindActivityJoined   Kind = "activity_joined"
	KindActivityLeft     Kind = "activity_left"
	KindActivitiesSynced Kind = "activities_synced"
)

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Event is one audited occurrence.
type Event struct {
	EventID           string `gorm:"column:event_id;primaryKey;size:64;not null" json:"eventId"`
	Kind              Kind   `gorm:"column:kind;size:64;not null;index:idx_presence_events_kind" json:"kind"`
	ConnectionID      int64  `gorm:"column:connection_id;not null;default:0" json:"connectionId"`
	UserID            string `gorm:"column:user_id;size:190;not null;default:''" json:"userId,omitempty"`
	ActivityID        string `gorm:"column:activity_id;size:190;not null;default:''" json:"activityId,omitempty"`
	Detail            string `gorm:"column:detail;size:512;not null;default:''" json:"detail,omitempty"`
	OccurredAtSeconds int64  `gorm:"column:occurred_at_s;not null;index:idx_presence_events_time" json:"occurredAtS"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "presence_events"
}
