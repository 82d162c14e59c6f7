package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/presence"
)

func TestDecodeInboundVariants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		check   func(t *testing.T, message Inbound)
	}{
		{
			name:    "register",
			payload: `{"type":"register","userId":"user1"}`,
			check: func(t *testing.T, message Inbound) {
				register, ok := message.(Register)
				if !ok || register.UserID != "user1" {
					t.Fatalf("unexpected message %#v", message)
				}
			},
		},
		{
			name:    "heartbeat",
			payload: `{"type":"heartbeat"}`,
			check: func(t *testing.T, message Inbound) {
				if _, ok := message.(Heartbeat); !ok {
					t.Fatalf("unexpected message %#v", message)
				}
			},
		},
		{
			name:    "status",
			payload: `{"type":"status_update","status":"away"}`,
			check: func(t *testing.T, message Inbound) {
				update, ok := message.(StatusUpdate)
				if !ok || update.Status != "away" {
					t.Fatalf("unexpected message %#v", message)
				}
			},
		},
		{
			name:    "create",
			payload: `{"type":"activity_create","activity":{"id":"a1","maxParticipants":2,"participants":[]}}`,
			check: func(t *testing.T, message Inbound) {
				create, ok := message.(ActivityCreate)
				if !ok || create.Activity == nil || create.Activity.ID != "a1" || create.Activity.MaxParticipants != 2 {
					t.Fatalf("unexpected message %#v", message)
				}
			},
		},
		{
			name:    "join",
			payload: `{"type":"activity_join","activityId":"a1","userId":"user2"}`,
			check: func(t *testing.T, message Inbound) {
				join, ok := message.(ActivityJoin)
				if !ok || join.ActivityID != "a1" || join.UserID != "user2" {
					t.Fatalf("unexpected message %#v", message)
				}
			},
		},
		{
			name:    "sync",
			payload: `{"type":"sync_activities","activities":[{"id":"a1"},{"id":"a2"}]}`,
			check: func(t *testing.T, message Inbound) {
				sync, ok := message.(SyncActivities)
				if !ok || len(sync.Activities) != 2 {
					t.Fatalf("unexpected message %#v", message)
				}
			},
		},
		{
			name:    "unknown",
			payload: `{"type":"marker_move","x":1}`,
			check: func(t *testing.T, message Inbound) {
				unknown, ok := message.(Unknown)
				if !ok || unknown.MessageType() != "marker_move" {
					t.Fatalf("unexpected message %#v", message)
				}
			},
		},
		{
			name:    "missing type",
			payload: `{"userId":"user1"}`,
			check: func(t *testing.T, message Inbound) {
				unknown, ok := message.(Unknown)
				if !ok || unknown.MessageType() != "" {
					t.Fatalf("unexpected message %#v", message)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			message, err := DecodeInbound([]byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, message)
		})
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`null`,
		`[{"type":"heartbeat"}]`,
		`{"type":7}`,
		`{"type":"activity_create"}`,
		`{"type":"activity_update","activity":null}`,
		`{"type":"register","userId":42}`,
	} {
		if _, err := DecodeInbound([]byte(payload)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("payload %s: expected ErrMalformedEnvelope, got %v", payload, err)
		}
	}
}

func TestOutboundEnvelopesEncodeEmptyArrays(t *testing.T) {
	welcome, err := json.Marshal(NewWelcome(1, nil))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(welcome) != `{"type":"welcome","socketId":1,"takenUserIds":[]}` {
		t.Fatalf("unexpected welcome %s", welcome)
	}

	rejected, err := json.Marshal(NewRegisterRejected(presence.RejectReasonUserTaken, []string{"user1"}))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(rejected) != `{"type":"register_rejected","reason":"user_taken","takenUserIds":["user1"]}` {
		t.Fatalf("unexpected rejection %s", rejected)
	}

	state, err := json.Marshal(NewState([]presence.UserPresence{{ID: "user1", Status: presence.StatusOnline}}, nil))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(state) != `{"type":"state","users":[{"id":"user1","status":"online"}],"activities":[]}` {
		t.Fatalf("unexpected state %s", state)
	}
}
