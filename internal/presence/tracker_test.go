package presence

import (
	"testing"
	"time"
)

func TestNewTrackerDefaults(t *testing.T) {
	tracker := NewTracker(0, -1)
	if tracker.Interval != DefaultSweepInterval || tracker.Timeout != DefaultHeartbeatTimeout {
		t.Fatalf("unexpected defaults: %+v", tracker)
	}
}

func TestSweepEvictsSilentConnections(t *testing.T) {
	registry := NewRegistry()
	start := time.Unix(1700000000, 0)
	silent := registry.Accept(start)
	chatty := registry.Accept(start)
	registry.Register(silent, "user1")
	registry.Register(chatty, "user2")

	tracker := NewTracker(15*time.Second, 45*time.Second)

	registry.TouchHeartbeat(chatty, start.Add(30*time.Second))
	if expired := tracker.Expired(registry, start.Add(44*time.Second)); len(expired) != 0 {
		t.Fatalf("nothing should expire before the timeout, got %v", expired)
	}

	evicted := tracker.Sweep(registry, start.Add(45*time.Second))
	if len(evicted) != 1 || evicted[0].ID != silent || evicted[0].UserID != "user1" {
		t.Fatalf("expected only the silent connection to be evicted, got %+v", evicted)
	}
	users := registry.Users()
	if len(users) != 1 || users[0].ID != "user2" {
		t.Fatalf("evicted identity should not be listed, got %+v", users)
	}

	evicted = tracker.Sweep(registry, start.Add(76*time.Second))
	if len(evicted) != 1 || evicted[0].ID != chatty {
		t.Fatalf("expected chatty connection to expire later, got %+v", evicted)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}
