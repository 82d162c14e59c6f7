package activities

import (
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/identity"
)

const (
	ReasonNotFound           = "not_found"
	ReasonAlreadyParticipant = "already_participant"
	ReasonFull               = "full"
	ReasonNotParticipant     = "not_participant"
)

// Result reports whether an operation changed the store. Rejections are not errors:
// callers decide whether to log them.
type Result struct {
	Applied bool
	Reason  string
}

func applied() Result {
	return Result{Applied: true}
}

func rejected(reason string) Result {
	return Result{Reason: reason}
}

// Store is the ordered activity list. It is not safe for concurrent use; a single
// event loop owns it.
type Store struct {
	activities []Activity
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{}
}

// Create appends the activity as supplied.
func (s *Store) Create(activity Activity) Result {
	s.activities = append(s.activities, activity.Clone())
	return applied()
}

// Update replaces the activity sharing the same id.
func (s *Store) Update(activity Activity) Result {
	index := s.indexOf(activity.ID)
	if index < 0 {
		return rejected(ReasonNotFound)
	}
	s.activities[index] = activity.Clone()
	return applied()
}

// Delete removes every activity with the given id.
func (s *Store) Delete(activityID string) Result {
	kept := s.activities[:0]
	removed := false
	for _, activity := range s.activities {
		if activity.ID == activityID {
			removed = true
			continue
		}
		kept = append(kept, activity)
	}
	clear(s.activities[len(kept):])
	s.activities = kept
	if !removed {
		return rejected(ReasonNotFound)
	}
	return applied()
}

// Join adds the member as a confirmed participant when the activity exists, the
// member is not already in it and a seat is free.
func (s *Store) Join(activityID string, member identity.Identity, now time.Time) Result {
	index := s.indexOf(activityID)
	if index < 0 {
		return rejected(ReasonNotFound)
	}
	activity := &s.activities[index]
	if activity.HasParticipant(member.ID) {
		return rejected(ReasonAlreadyParticipant)
	}
	if activity.IsFull() {
		return rejected(ReasonFull)
	}
	activity.Participants = append(activity.Participants,
		NewParticipant(member.ID, member.Name, member.Color, JoinConfirmed, now))
	return applied()
}

// Leave removes the participant from the activity.
func (s *Store) Leave(activityID, userID string) Result {
	index := s.indexOf(activityID)
	if index < 0 {
		return rejected(ReasonNotFound)
	}
	activity := &s.activities[index]
	remaining := make([]Participant, 0, len(activity.Participants))
	for _, participant := range activity.Participants {
		if participant.ID != userID {
			remaining = append(remaining, participant)
		}
	}
	if len(remaining) == len(activity.Participants) {
		return rejected(ReasonNotParticipant)
	}
	activity.Participants = remaining
	return applied()
}

// Sync appends the activities whose id the store does not know yet and returns how
// many were added. Existing activities always win.
func (s *Store) Sync(batch []Activity) int {
	added := 0
	for _, activity := range batch {
		if activity.ID == "" || s.indexOf(activity.ID) >= 0 {
			continue
		}
		s.activities = append(s.activities, activity.Clone())
		added++
	}
	return added
}

// Get returns a copy of the activity with the given id.
func (s *Store) Get(activityID string) (Activity, bool) {
	index := s.indexOf(activityID)
	if index < 0 {
		return Activity{}, false
	}
	return s.activities[index].Clone(), true
}

// List returns copies of all activities in insertion order.
func (s *Store) List() []Activity {
	out := make([]Activity, 0, len(s.activities))
	for _, activity := range s.activities {
		out = append(out, activity.Clone())
	}
	return out
}

// Len returns the number of activities.
func (s *Store) Len() int {
	return len(s.activities)
}

func (s *Store) indexOf(activityID string) int {
	for index, activity := range s.activities {
		if activity.ID == activityID {
			return index
		}
	}
	return -1
}
