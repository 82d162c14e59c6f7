package server

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/activities"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/journal"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/wsframe"
)

// envelope is a loose decoding of any outbound message.
type envelope struct {
	Type         string                  `json:"type"`
	SocketID     int64                   `json:"socketId"`
	TakenUserIDs []string                `json:"takenUserIds"`
	Reason       string                  `json:"reason"`
	Users        []presence.UserPresence `json:"users"`
	Activities   []activities.Activity   `json:"activities"`
}

type fakeSink struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
	closed   bool
}

func newFakeSink(capacity int) *fakeSink {
	return &fakeSink{capacity: capacity}
}

func (s *fakeSink) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.capacity > 0 && len(s.frames) >= s.capacity) {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// drain decodes and clears every queued frame.
func (s *fakeSink) drain(t *testing.T) []envelope {
	t.Helper()
	s.mu.Lock()
	frames := s.frames
	s.frames = nil
	s.mu.Unlock()

	decoded := make([]envelope, 0, len(frames))
	for _, raw := range frames {
		frame, err := wsframe.ReadServerFrame(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("outbound frame did not decode: %v", err)
		}
		var message envelope
		if err := json.Unmarshal(frame.Payload, &message); err != nil {
			t.Fatalf("outbound payload is not json: %v", err)
		}
		decoded = append(decoded, message)
	}
	return decoded
}

// last returns the most recent envelope of the given type.
func last(t *testing.T, messages []envelope, messageType string) envelope {
	t.Helper()
	for index := len(messages) - 1; index >= 0; index-- {
		if messages[index].Type == messageType {
			return messages[index]
		}
	}
	t.Fatalf("no %s message among %d frames", messageType, len(messages))
	return envelope{}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (r *recordingJournal) Record(event journal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingJournal) kinds() []journal.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]journal.Kind, 0, len(r.events))
	for _, event := range r.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

type hubHarness struct {
	hub     *Hub
	clock   *fakeClock
	journal *recordingJournal
	metrics *Metrics
	stop    func()
}

// newHubHarness starts a hub whose ticker never fires during a test; sweeps are
// triggered explicitly.
func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()
	pool, err := identity.NewPool(identity.DefaultIdentities())
	if err != nil {
		t.Fatalf("unexpected pool error: %v", err)
	}
	clock := newFakeClock()
	recorder := &recordingJournal{}
	metrics := NewMetrics()
	hub, err := NewHub(HubConfig{
		Identities: pool,
		Tracker:    presence.NewTracker(time.Hour, presence.DefaultHeartbeatTimeout),
		Clock:      clock.Now,
		Metrics:    metrics,
		Journal:    recorder,
	})
	if err != nil {
		t.Fatalf("unexpected hub error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	return &hubHarness{hub: hub, clock: clock, journal: recorder, metrics: metrics, stop: stop}
}

// settle waits until every task queued so far has run.
func (h *hubHarness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.hub.Snapshot(ctx); err != nil {
		t.Fatalf("hub did not settle: %v", err)
	}
}

func (h *hubHarness) connect(t *testing.T) (int64, *fakeSink) {
	t.Helper()
	sink := newFakeSink(0)
	id, ok := h.hub.Connect(sink)
	if !ok {
		t.Fatalf("connect refused")
	}
	return id, sink
}

func (h *hubHarness) send(t *testing.T, connectionID int64, payload string) {
	t.Helper()
	if !h.hub.Deliver(connectionID, []byte(payload)) {
		t.Fatalf("deliver refused for %s", payload)
	}
	h.settle(t)
}

func (h *hubHarness) sweep(t *testing.T) {
	t.Helper()
	if !h.hub.submit(h.hub.sweep) {
		t.Fatalf("sweep refused")
	}
	h.settle(t)
}
