// Package activities holds the authoritative in-memory list of collaborative activities.
package activities

import (
	"encoding/json"
	"maps"
	"time"
)

// Status is the lifecycle state of an activity.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// JoinStatus is the membership state of a participant.
type JoinStatus string

const (
	JoinConfirmed JoinStatus = "confirmed"
	JoinPending   JoinStatus = "pending"
	JoinDeclined  JoinStatus = "declined"
)

// Participant is one member of an activity. Only the id is interpreted; the rest
// of the document (name, color, status, joinedAt and anything a client adds) is
// kept verbatim in Fields.
type Participant struct {
	ID     string
	Fields map[string]json.RawMessage

	// raw holds an entry that is not a JSON object. It is echoed back unchanged.
	raw json.RawMessage
}

// NewParticipant builds the participant document written by a join.
func NewParticipant(id, name, color string, status JoinStatus, joinedAt time.Time) Participant {
	return Participant{
		ID: id,
		Fields: map[string]json.RawMessage{
			"name":     mustRaw(name),
			"color":    mustRaw(color),
			"status":   mustRaw(status),
			"joinedAt": mustRaw(joinedAt.UTC().Format(time.RFC3339Nano)),
		},
	}
}

func mustRaw(value any) json.RawMessage {
	encoded, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Name returns the display name, or "" when absent or not a string.
func (p Participant) Name() string {
	return p.stringField("name")
}

// Color returns the display color, or "" when absent or not a string.
func (p Participant) Color() string {
	return p.stringField("color")
}

// Status returns the join status, or "" when absent or not a string.
func (p Participant) Status() JoinStatus {
	return JoinStatus(p.stringField("status"))
}

// JoinedAt parses joinedAt when it holds an RFC3339 timestamp.
func (p Participant) JoinedAt() (time.Time, bool) {
	value := p.stringField("joinedAt")
	if value == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func (p Participant) stringField(name string) string {
	raw, ok := p.Fields[name]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

// UnmarshalJSON never fails on well-formed JSON: the caller's document is trusted.
func (p *Participant) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if !json.Valid(data) {
			return err
		}
		*p = Participant{raw: append(json.RawMessage(nil), data...)}
		return nil
	}
	*p = Participant{}
	if rawID, ok := fields["id"]; ok {
		var id string
		if json.Unmarshal(rawID, &id) == nil {
			p.ID = id
			delete(fields, "id")
		}
	}
	if len(fields) > 0 {
		p.Fields = fields
	}
	return nil
}

// MarshalJSON writes Fields back with the id.
func (p Participant) MarshalJSON() ([]byte, error) {
	if p.raw != nil {
		return p.raw, nil
	}
	document := make(map[string]json.RawMessage, len(p.Fields)+1)
	for name, raw := range p.Fields {
		document[name] = raw
	}
	if _, ok := document["id"]; !ok {
		document["id"] = mustRaw(p.ID)
	}
	return json.Marshal(document)
}

func (p Participant) clone() Participant {
	clone := p
	if p.Fields != nil {
		clone.Fields = maps.Clone(p.Fields)
	}
	return clone
}

// Activity is a collaborative entity. Descriptive fields the server does not
// interpret (type, description, schedule, creator, trail, distance, difficulty)
// travel untouched in Extra.
type Activity struct {
	ID              string
	Name            string
	Status          Status
	MaxParticipants int
	Participants    []Participant
	Extra           map[string]json.RawMessage
}

type activityCore struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Status          Status        `json:"status"`
	MaxParticipants int           `json:"maxParticipants"`
	Participants    []Participant `json:"participants"`
}

var coreFields = []string{"id", "name", "status", "maxParticipants", "participants"}

// UnmarshalJSON decodes the interpreted fields and keeps everything else in Extra.
func (a *Activity) UnmarshalJSON(data []byte) error {
	var core activityCore
	if err := json.Unmarshal(data, &core); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, name := range coreFields {
		delete(fields, name)
	}

	*a = Activity{
		ID:              core.ID,
		Name:            core.Name,
		Status:          core.Status,
		MaxParticipants: core.MaxParticipants,
		Participants:    core.Participants,
	}
	if len(fields) > 0 {
		a.Extra = fields
	}
	return nil
}

// MarshalJSON merges Extra with the interpreted fields. Participants always encode
// as an array.
func (a Activity) MarshalJSON() ([]byte, error) {
	document := make(map[string]any, len(a.Extra)+len(coreFields))
	for name, raw := range a.Extra {
		document[name] = raw
	}
	participants := a.Participants
	if participants == nil {
		participants = []Participant{}
	}
	document["id"] = a.ID
	document["name"] = a.Name
	document["maxParticipants"] = a.MaxParticipants
	document["participants"] = participants
	if a.Status != "" {
		document["status"] = a.Status
	}
	return json.Marshal(document)
}

// Clone returns a deep copy safe to hand outside the store.
func (a Activity) Clone() Activity {
	clone := a
	if a.Participants != nil {
		clone.Participants = make([]Participant, len(a.Participants))
		for index, participant := range a.Participants {
			clone.Participants[index] = participant.clone()
		}
	}
	if a.Extra != nil {
		clone.Extra = maps.Clone(a.Extra)
	}
	return clone
}

// HasParticipant reports whether userID already takes part in the activity.
func (a Activity) HasParticipant(userID string) bool {
	for _, participant := range a.Participants {
		if participant.ID == userID {
			return true
		}
	}
	return false
}

// IsFull reports whether the participant list reached MaxParticipants.
func (a Activity) IsFull() bool {
	return len(a.Participants) >= a.MaxParticipants
}
