// Package protocol defines the JSON envelopes exchanged with clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/activities"
)

const (
	TypeRegister       = "register"
	TypeHeartbeat      = "heartbeat"
	TypeStatusUpdate   = "status_update"
	TypeGetState       = "get_state"
	TypeActivityCreate = "activity_create"
	TypeActivityUpdate = "activity_update"
	TypeActivityDelete = "activity_delete"
	TypeActivityJoin   = "activity_join"
	TypeActivityLeave  = "activity_leave"
	TypeSyncActivities = "sync_activities"
)

// ErrMalformedEnvelope indicates the payload is not a JSON envelope this server can read.
var ErrMalformedEnvelope = errors.New("protocol: malformed envelope")

// Inbound is the closed set of client-to-server messages.
type Inbound interface {
	MessageType() string
	inbound()
}

type Register struct {
	UserID string `json:"userId"`
}

type Heartbeat struct{}

type StatusUpdate struct {
	Status string `json:"status"`
}

type GetState struct{}

type ActivityCreate struct {
	Activity *activities.Activity `json:"activity"`
}

type ActivityUpdate struct {
	Activity *activities.Activity `json:"activity"`
}

type ActivityDelete struct {
	ActivityID string `json:"activityId"`
}

type ActivityJoin struct {
	ActivityID string `json:"activityId"`
	UserID     string `json:"userId"`
}

type ActivityLeave struct {
	ActivityID string `json:"activityId"`
	UserID     string `json:"userId"`
}

type SyncActivities struct {
	Activities []activities.Activity `json:"activities"`
}

// Unknown carries a well-formed envelope whose type this server does not handle.
type Unknown struct {
	Type string
}

func (Register) MessageType() string       { return TypeRegister }
func (Heartbeat) MessageType() string      { return TypeHeartbeat }
func (StatusUpdate) MessageType() string   { return TypeStatusUpdate }
func (GetState) MessageType() string       { return TypeGetState }
func (ActivityCreate) MessageType() string { return TypeActivityCreate }
func (ActivityUpdate) MessageType() string { return TypeActivityUpdate }
func (ActivityDelete) MessageType() string { return TypeActivityDelete }
func (ActivityJoin) MessageType() string   { return TypeActivityJoin }
func (ActivityLeave) MessageType() string  { return TypeActivityLeave }
func (SyncActivities) MessageType() string { return TypeSyncActivities }
func (u Unknown) MessageType() string      { return u.Type }

func (Register) inbound()       {}
func (Heartbeat) inbound()      {}
func (StatusUpdate) inbound()   {}
func (GetState) inbound()       {}
func (ActivityCreate) inbound() {}
func (ActivityUpdate) inbound() {}
func (ActivityDelete) inbound() {}
func (ActivityJoin) inbound()   {}
func (ActivityLeave) inbound()  {}
func (SyncActivities) inbound() {}
func (Unknown) inbound()        {}

// DecodeInbound parses a text payload into one of the Inbound variants.
// An object without a type decodes as Unknown with an empty type.
func DecodeInbound(payload []byte) (Inbound, error) {
	var envelope *struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if envelope == nil {
		return nil, fmt.Errorf("%w: null payload", ErrMalformedEnvelope)
	}

	switch envelope.Type {
	case TypeRegister:
		return decodeAs[Register](payload)
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeStatusUpdate:
		return decodeAs[StatusUpdate](payload)
	case TypeGetState:
		return GetState{}, nil
	case TypeActivityCreate:
		message, err := decodeAs[ActivityCreate](payload)
		if err == nil && message.Activity == nil {
			return nil, fmt.Errorf("%w: %s without activity", ErrMalformedEnvelope, envelope.Type)
		}
		return message, err
	case TypeActivityUpdate:
		message, err := decodeAs[ActivityUpdate](payload)
		if err == nil && message.Activity == nil {
			return nil, fmt.Errorf("%w: %s without activity", ErrMalformedEnvelope, envelope.Type)
		}
		return message, err
	case TypeActivityDelete:
		return decodeAs[ActivityDelete](payload)
	case TypeActivityJoin:
		return decodeAs[ActivityJoin](payload)
	case TypeActivityLeave:
		return decodeAs[ActivityLeave](payload)
	case TypeSyncActivities:
		return decodeAs[SyncActivities](payload)
	default:
		return Unknown{Type: envelope.Type}, nil
	}
}

func decodeAs[T Inbound](payload []byte) (T, error) {
	var message T
	if err := json.Unmarshal(payload, &message); err != nil {
		return message, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return message, nil
}
