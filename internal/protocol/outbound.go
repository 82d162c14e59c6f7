package protocol

import (
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/activities"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/presence"
)

const (
	TypeWelcome          = "welcome"
	TypeRegisterRejected = "register_rejected"
	TypeState            = "state"
)

// Welcome greets a freshly accepted connection.
type Welcome struct {
	Type         string   `json:"type"`
	SocketID     int64    `json:"socketId"`
	TakenUserIDs []string `json:"takenUserIds"`
}

// RegisterRejected answers a register message whose identity is unavailable.
type RegisterRejected struct {
	Type         string   `json:"type"`
	Reason       string   `json:"reason"`
	TakenUserIDs []string `json:"takenUserIds"`
}

// State is the full snapshot of users and activities.
type State struct {
	Type       string                  `json:"type"`
	Users      []presence.UserPresence `json:"users"`
	Activities []activities.Activity   `json:"activities"`
}

func NewWelcome(socketID int64, taken []string) Welcome {
	return Welcome{Type: TypeWelcome, SocketID: socketID, TakenUserIDs: nonNil(taken)}
}

func NewRegisterRejected(reason string, taken []string) RegisterRejected {
	return RegisterRejected{Type: TypeRegisterRejected, Reason: reason, TakenUserIDs: nonNil(taken)}
}

func NewState(users []presence.UserPresence, list []activities.Activity) State {
	if users == nil {
		users = []presence.UserPresence{}
	}
	if list == nil {
		list = []activities.Activity{}
	}
	return State{Type: TypeState, Users: users, Activities: list}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
