package activities

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/identity"
)

var joinTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func member(id string) identity.Identity {
	return identity.Identity{ID: id, Name: "Name " + id, Color: "rgb(1,2,3)"}
}

func TestJoinAddsConfirmedParticipant(t *testing.T) {
	store := NewStore()
	store.Create(Activity{ID: "a1", Name: "Run", MaxParticipants: 2})

	result := store.Join("a1", member("user2"), joinTime)
	if !result.Applied {
		t.Fatalf("expected join to apply, got %+v", result)
	}
	activity, _ := store.Get("a1")
	if len(activity.Participants) != 1 {
		t.Fatalf("expected one participant, got %d", len(activity.Participants))
	}
	participant := activity.Participants[0]
	joinedAt, ok := participant.JoinedAt()
	if participant.ID != "user2" || participant.Status() != JoinConfirmed || !ok || !joinedAt.Equal(joinTime) {
		t.Fatalf("unexpected participant %+v", participant)
	}
	if participant.Name() != "Name user2" || participant.Color() != "rgb(1,2,3)" {
		t.Fatalf("expected display fields from profile, got %+v", participant)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	store := NewStore()
	store.Create(Activity{ID: "a1", MaxParticipants: 5})
	store.Join("a1", member("user1"), joinTime)

	result := store.Join("a1", member("user1"), joinTime)
	if result.Applied || result.Reason != ReasonAlreadyParticipant {
		t.Fatalf("expected already_participant, got %+v", result)
	}
	activity, _ := store.Get("a1")
	if len(activity.Participants) != 1 {
		t.Fatalf("duplicate join produced %d participants", len(activity.Participants))
	}
}

func TestJoinRespectsCapacity(t *testing.T) {
	store := NewStore()
	store.Create(Activity{ID: "a1", MaxParticipants: 2})
	for _, id := range []string{"user1", "user2", "user3"} {
		store.Join("a1", member(id), joinTime)
	}
	activity, _ := store.Get("a1")
	if len(activity.Participants) != 2 {
		t.Fatalf("expected capacity to cap at 2, got %d", len(activity.Participants))
	}
	result := store.Join("a1", member("user4"), joinTime)
	if result.Applied || result.Reason != ReasonFull {
		t.Fatalf("expected full, got %+v", result)
	}
}

func TestJoinMissingActivity(t *testing.T) {
	store := NewStore()
	if result := store.Join("ghost", member("user1"), joinTime); result.Applied || result.Reason != ReasonNotFound {
		t.Fatalf("expected not_found, got %+v", result)
	}
}

func TestLeave(t *testing.T) {
	store := NewStore()
	store.Create(Activity{ID: "a1", MaxParticipants: 3})
	store.Join("a1", member("user1"), joinTime)
	store.Join("a1", member("user2"), joinTime)

	if result := store.Leave("a1", "user1"); !result.Applied {
		t.Fatalf("expected leave to apply, got %+v", result)
	}
	if result := store.Leave("a1", "user1"); result.Applied || result.Reason != ReasonNotParticipant {
		t.Fatalf("expected not_participant, got %+v", result)
	}
	if result := store.Leave("missing", "user2"); result.Reason != ReasonNotFound {
		t.Fatalf("expected not_found, got %+v", result)
	}
	activity, _ := store.Get("a1")
	if len(activity.Participants) != 1 || activity.Participants[0].ID != "user2" {
		t.Fatalf("unexpected participants %+v", activity.Participants)
	}
}

func TestUpdateReplacesWholeDocument(t *testing.T) {
	store := NewStore()
	store.Create(Activity{ID: "a1", Name: "Old", MaxParticipants: 2, Participants: []Participant{{ID: "user1"}}})

	result := store.Update(Activity{ID: "a1", Name: "New", Status: StatusInProgress, MaxParticipants: 4})
	if !result.Applied {
		t.Fatalf("expected update to apply, got %+v", result)
	}
	activity, _ := store.Get("a1")
	if activity.Name != "New" || activity.Status != StatusInProgress || len(activity.Participants) != 0 {
		t.Fatalf("expected full replacement, got %+v", activity)
	}

	if result := store.Update(Activity{ID: "missing"}); result.Applied || result.Reason != ReasonNotFound {
		t.Fatalf("expected not_found, got %+v", result)
	}
	if store.Len() != 1 {
		t.Fatalf("update of missing id must not append")
	}
}

func TestDelete(t *testing.T) {
	store := NewStore()
	store.Create(Activity{ID: "a1"})
	store.Create(Activity{ID: "a2"})

	if result := store.Delete("a1"); !result.Applied {
		t.Fatalf("expected delete to apply, got %+v", result)
	}
	if result := store.Delete("a1"); result.Applied || result.Reason != ReasonNotFound {
		t.Fatalf("expected not_found, got %+v", result)
	}
	list := store.List()
	if len(list) != 1 || list[0].ID != "a2" {
		t.Fatalf("unexpected activities %+v", list)
	}
}

func TestSyncKeepsServerVersion(t *testing.T) {
	store := NewStore()
	store.Create(Activity{ID: "a1", Name: "Server"})

	added := store.Sync([]Activity{
		{ID: "a1", Name: "Client"},
		{ID: "a2", Name: "Fresh"},
		{ID: "a2", Name: "Fresh duplicate"},
		{ID: "", Name: "No id"},
	})
	if added != 1 {
		t.Fatalf("expected one activity added, got %d", added)
	}
	list := store.List()
	if len(list) != 2 || list[0].Name != "Server" || list[1].Name != "Fresh" {
		t.Fatalf("unexpected activities after sync %+v", list)
	}
}

func TestListReturnsCopies(t *testing.T) {
	store := NewStore()
	store.Create(Activity{ID: "a1", MaxParticipants: 2})
	store.Join("a1", member("user1"), joinTime)

	list := store.List()
	list[0].Participants[0].ID = "tampered"
	activity, _ := store.Get("a1")
	if activity.Participants[0].ID != "user1" {
		t.Fatalf("store state leaked through List")
	}
}
