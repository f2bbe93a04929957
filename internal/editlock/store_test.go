package editlock

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireReleaseCycle(t *testing.T) {
	t.Parallel()

	s := New()
	if !s.TryAcquire("m1", []string{"u1", "u2"}) {
		t.Fatal("first acquire failed")
	}
	if s.TryAcquire("m1", []string{"u3"}) {
		t.Fatal("second acquire succeeded without release")
	}
	snap, err := s.Snapshot("m1")
	if err != nil || len(snap) != 2 || snap[0] != "u1" {
		t.Fatalf("Snapshot = %v, %v", snap, err)
	}

	s.Release("m1")
	s.Release("m1") // idempotent
	s.Release("never-locked")

	if _, err := s.Snapshot("m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Snapshot after release err = %v", err)
	}
	if !s.TryAcquire("m1", nil) {
		t.Fatal("acquire after release failed")
	}
}

func TestSnapshotIsCopied(t *testing.T) {
	t.Parallel()

	s := New()
	pool := []string{"u1", "u2"}
	s.TryAcquire("m", pool)
	pool[0] = "changed"

	got, _ := s.Snapshot("m")
	got[1] = "changed"
	again, _ := s.Snapshot("m")
	if again[0] != "u1" || again[1] != "u2" {
		t.Fatalf("snapshot aliased: %v", again)
	}
}

// Two editors racing to finalize the same message: exactly one wins.
func TestConcurrentFinalizeSameMessage(t *testing.T) {
	t.Parallel()

	s := New()
	const racers = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if s.TryAcquire("m", []string{"u"}) {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("wins = %d, want 1", got)
	}
}

func TestConcurrentDifferentMessages(t *testing.T) {
	t.Parallel()

	s := New()
	ids := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if s.TryAcquire(id, nil) {
				wins.Add(1)
			}
		}(id)
	}
	wg.Wait()
	if int(wins.Load()) != len(ids) {
		t.Fatalf("wins = %d", wins.Load())
	}
}

func TestSessionsFiltersAndOrders(t *testing.T) {
	t.Parallel()

	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.TryAcquireSession(Session{MessageID: "m2", GuildID: "g1", EditorID: "e2", OpenedAt: base.Add(time.Minute)})
	s.TryAcquireSession(Session{MessageID: "m1", GuildID: "g1", EditorID: "e1", OpenedAt: base})
	s.TryAcquireSession(Session{MessageID: "m3", GuildID: "g2", EditorID: "e3", OpenedAt: base})

	got := s.Sessions("g1")
	if len(got) != 2 || got[0].MessageID != "m1" || got[1].MessageID != "m2" {
		t.Fatalf("Sessions(g1) = %+v", got)
	}
	if len(s.Sessions("")) != 3 {
		t.Fatal("Sessions(\"\") should list all")
	}
	if !s.Locked("m3") || s.Locked("m4") {
		t.Fatal("Locked mismatch")
	}
}

func TestSessionLookup(t *testing.T) {
	t.Parallel()

	s := New()
	if _, err := s.Session("m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Session on empty store: %v", err)
	}
	s.TryAcquireSession(Session{MessageID: "m1", ChannelID: "c1", EditorID: "e1", Snapshot: []string{"a"}})
	got, err := s.Session("m1")
	if err != nil || got.EditorID != "e1" || got.ChannelID != "c1" {
		t.Fatalf("Session = %+v, %v", got, err)
	}
	got.Snapshot[0] = "mutated"
	if snap, _ := s.Snapshot("m1"); snap[0] != "a" {
		t.Fatal("Session leaked internal snapshot")
	}
}
