package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/stream-herald/state"
)

func TestScheduleReplacesExisting(t *testing.T) {
	s := New(nil)
	later := time.Now().Add(time.Hour)
	s.Schedule(Check{EntityID: "A", Kind: KindSniper, TargetTime: time.Now().Add(time.Minute)})
	s.Schedule(Check{EntityID: "A", Kind: KindSniper, TargetTime: later})

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	c, ok := s.Pending("A")
	if !ok {
		t.Fatal("expected pending check for A")
	}
	if !c.TargetTime.Equal(later) {
		t.Errorf("TargetTime = %v, want the later reschedule %v", c.TargetTime, later)
	}
}

func TestCancel(t *testing.T) {
	s := New(nil)
	s.Schedule(Check{EntityID: "A", Kind: KindHealth, TargetTime: time.Now().Add(time.Hour)})
	if !s.Cancel("A") {
		t.Fatal("Cancel() = false, want true")
	}
	if s.Cancel("A") {
		t.Fatal("second Cancel() = true, want false")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestFireRemovesAndInvokes(t *testing.T) {
	s := New(nil)
	fired := make(chan Check, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, func(_ context.Context, c Check) { fired <- c })

	s.Schedule(Check{EntityID: "A", Kind: KindSniper, StreamRef: "vid-1", TargetTime: time.Now().Add(10 * time.Millisecond)})

	select {
	case c := <-fired:
		if c.EntityID != "A" || c.StreamRef != "vid-1" {
			t.Errorf("fired check = %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("check never fired")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() after fire = %d, want 0", s.Len())
	}
}

func TestSupersededTimerIsNoOp(t *testing.T) {
	s := New(nil)
	var mu sync.Mutex
	var firedRefs []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, func(_ context.Context, c Check) {
		mu.Lock()
		firedRefs = append(firedRefs, c.StreamRef)
		mu.Unlock()
	})

	// Schedule a near-term check, then immediately supersede it far out.
	s.Schedule(Check{EntityID: "A", Kind: KindSniper, StreamRef: "old", TargetTime: time.Now().Add(20 * time.Millisecond)})
	s.Schedule(Check{EntityID: "A", Kind: KindSniper, StreamRef: "new", TargetTime: time.Now().Add(time.Hour)})

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(firedRefs) != 0 {
		t.Fatalf("superseded timer fired: %v", firedRefs)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestMutationsPersist(t *testing.T) {
	var mu sync.Mutex
	var saves []int
	s := New(func(snap state.Snapshot) {
		mu.Lock()
		saves = append(saves, len(snap.PendingChecks))
		mu.Unlock()
	})
	s.Schedule(Check{EntityID: "A", Kind: KindSniper, TargetTime: time.Now().Add(time.Hour)})
	s.Schedule(Check{EntityID: "B", Kind: KindHealth, TargetTime: time.Now().Add(time.Hour)})
	s.Cancel("A")

	mu.Lock()
	defer mu.Unlock()
	if len(saves) != 3 {
		t.Fatalf("got %d persistence calls, want 3 (one per mutation)", len(saves))
	}
	if saves[2] != 1 {
		t.Errorf("final persisted table size = %d, want 1", saves[2])
	}
}

func TestRestoreClampsPastTargets(t *testing.T) {
	s := New(nil)
	now := time.Now().UTC()
	snap := state.Snapshot{PendingChecks: []state.PendingCheck{
		// Sniper whose target passed but whose announced start is still within the window.
		{EntityID: "A", Kind: "sniper", StreamRef: "vid-a", TargetTime: now.Add(-10 * time.Minute), ReferenceTime: now.Add(2 * time.Minute)},
		// Sniper long past the give-up deadline: dropped.
		{EntityID: "B", Kind: "sniper", StreamRef: "vid-b", TargetTime: now.Add(-2 * time.Hour), ReferenceTime: now.Add(-90 * time.Minute)},
		// Health check with a stale target: re-armed at the short restore delay.
		{EntityID: "C", Kind: "health", TargetTime: now.Add(-time.Hour)},
		// Future target kept as-is.
		{EntityID: "D", Kind: "health", TargetTime: now.Add(30 * time.Minute)},
	}}
	s.Restore(snap)

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (expired sniper dropped)", s.Len())
	}
	if _, ok := s.Pending("B"); ok {
		t.Error("expired sniper check B survived restore")
	}
	a, _ := s.Pending("A")
	if a.TargetTime.Before(now) {
		t.Errorf("restored sniper target still in the past: %v", a.TargetTime)
	}
	c, _ := s.Pending("C")
	if c.TargetTime.Before(now) || c.TargetTime.After(now.Add(time.Minute)) {
		t.Errorf("restored health target = %v, want shortly after now", c.TargetTime)
	}
	d, _ := s.Pending("D")
	if !d.TargetTime.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("future health target rewritten to %v", d.TargetTime)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New(nil)
	t1 := time.Now().Add(time.Hour).UTC()
	t2 := time.Now().Add(2 * time.Hour).UTC()
	s.Schedule(Check{EntityID: "A", Kind: KindSniper, StreamRef: "vid", TargetTime: t1, ReferenceTime: t1.Add(SniperLead)})
	s.Schedule(Check{EntityID: "B", Kind: KindHealth, TargetTime: t2})

	snap := s.Snapshot()
	s2 := New(nil)
	s2.Restore(snap)

	if s2.Len() != 2 {
		t.Fatalf("restored Len() = %d, want 2", s2.Len())
	}
	a, _ := s2.Pending("A")
	if !a.TargetTime.Equal(t1) || a.StreamRef != "vid" || a.Kind != KindSniper {
		t.Errorf("restored A = %+v", a)
	}
	b, _ := s2.Pending("B")
	if !b.TargetTime.Equal(t2) || b.Kind != KindHealth {
		t.Errorf("restored B = %+v", b)
	}
}
