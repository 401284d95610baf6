package presence

import (
	"context"
	"sort"
	"testing"
	"time"
)

func TestMemoryTracker_HeartbeatAndIsOnline(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	ctx := context.Background()

	online, err := tracker.IsOnline(ctx, "acme", "op-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if online {
		t.Fatal("expected op-1 offline before any heartbeat")
	}

	if err := tracker.Heartbeat(ctx, "acme", "op-1"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	online, err = tracker.IsOnline(ctx, "acme", "op-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !online {
		t.Fatal("expected op-1 online after heartbeat")
	}
}

func TestMemoryTracker_ExpiryTransitionsOffline(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	if err := tracker.Heartbeat(ctx, "acme", "op-1"); err != nil {
		t.Fatalf("heartbeat failed: %v", err)
	}

	// Just before expiry the operator is still online.
	now = now.Add(59 * time.Second)
	online, _ := tracker.IsOnline(ctx, "acme", "op-1")
	if !online {
		t.Fatal("expected online just before TTL")
	}

	// Past the TTL without a new heartbeat the operator goes offline.
	now = now.Add(2 * time.Second)
	online, _ = tracker.IsOnline(ctx, "acme", "op-1")
	if online {
		t.Fatal("expected offline after TTL expiry")
	}
}

func TestMemoryTracker_HeartbeatRenewsTTL(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }

	tracker.Heartbeat(ctx, "acme", "op-1")
	now = now.Add(45 * time.Second)
	tracker.Heartbeat(ctx, "acme", "op-1")

	// 90s after the first heartbeat but only 45s after the renewal.
	now = now.Add(45 * time.Second)
	online, _ := tracker.IsOnline(ctx, "acme", "op-1")
	if !online {
		t.Fatal("expected renewal to extend the online window")
	}
}

func TestMemoryTracker_OnlineListsOnlyClinic(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	ctx := context.Background()

	tracker.Heartbeat(ctx, "acme", "op-1")
	tracker.Heartbeat(ctx, "acme", "op-2")
	tracker.Heartbeat(ctx, "beta", "op-3")

	online, err := tracker.Online(ctx, "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Strings(online)
	if len(online) != 2 || online[0] != "op-1" || online[1] != "op-2" {
		t.Fatalf("expected [op-1 op-2], got %v", online)
	}
}

func TestMemoryTracker_Clear(t *testing.T) {
	tracker := NewMemoryTracker(time.Minute)
	ctx := context.Background()

	tracker.Heartbeat(ctx, "acme", "op-1")
	if err := tracker.Clear(ctx, "acme", "op-1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	online, _ := tracker.IsOnline(ctx, "acme", "op-1")
	if online {
		t.Fatal("expected offline after explicit clear")
	}
}

func TestPresenceKey(t *testing.T) {
	key := presenceKey("acme", "op-7")
	if key != "presence:acme:op-7" {
		t.Fatalf("unexpected key: %s", key)
	}
}
