package server

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegisterDuplicateUsername(t *testing.T) {
	reg := NewRegistry()
	s1 := newNopSession(reg)
	s2 := newNopSession(reg)

	if err := reg.Register("alice", s1); err != nil {
		t.Fatalf("Register s1: %v", err)
	}
	if err := reg.Register("alice", s2); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("Register s2: want ErrDuplicateUsername, got %v", err)
	}

	got, ok := reg.Lookup("alice")
	if !ok || got.ID() != s1.ID() {
		t.Fatalf("Lookup: want session %d, got %v ok=%t", s1.ID(), got, ok)
	}
}

func TestRegisterClosedSession(t *testing.T) {
	reg := NewRegistry()
	s := newNopSession(reg)
	s.Close()

	if err := reg.Register("alice", s); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Register: want ErrSessionClosed, got %v", err)
	}
	if _, ok := reg.Lookup("alice"); ok {
		t.Fatalf("Lookup: closed session must not be registered")
	}
}

func TestUnregisterKeepsReclaimedName(t *testing.T) {
	reg := NewRegistry()
	s1 := newNopSession(reg)
	s2 := newNopSession(reg)

	s1.setUsername("alice")
	if err := reg.Register("alice", s1); err != nil {
		t.Fatalf("Register s1: %v", err)
	}
	reg.Unregister(s1)

	// A reconnect claims the name before the old session's second cleanup.
	s2.setUsername("alice")
	if err := reg.Register("alice", s2); err != nil {
		t.Fatalf("Register s2 after unregister: %v", err)
	}
	reg.Unregister(s1)

	got, ok := reg.Lookup("alice")
	if !ok || got.ID() != s2.ID() {
		t.Fatalf("Lookup after stale unregister: want session %d, got %v ok=%t", s2.ID(), got, ok)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	reg := NewRegistry()
	s := newNopSession(reg)

	reg.Track(s)
	reg.Unregister(s)
	reg.Unregister(s) // never tracked or registered by now; must not panic

	if n := reg.Len(); n != 0 {
		t.Fatalf("Len: want 0, got %d", n)
	}
}

func TestConcurrentRegisterSingleWinner(t *testing.T) {
	reg := NewRegistry()

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan *Session, contenders)
	for i := 0; i < contenders; i++ {
		s := newNopSession(reg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Register("alice", s); err == nil {
				wins <- s
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []*Session
	for s := range wins {
		winners = append(winners, s)
	}
	if len(winners) != 1 {
		t.Fatalf("Register: want exactly 1 winner, got %d", len(winners))
	}
	got, ok := reg.Lookup("alice")
	if !ok || got.ID() != winners[0].ID() {
		t.Fatalf("Lookup: registry entry does not match the winner")
	}
}

func TestNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		if err := reg.Register(name, newNopSession(reg)); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	want := []string{"alice", "bob", "carol"}
	if diff := cmp.Diff(want, reg.Names()); diff != "" {
		t.Fatalf("Names mismatch (-want +got):\n%s", diff)
	}
	if n := reg.Len(); n != 3 {
		t.Fatalf("Len: want 3, got %d", n)
	}
}

func TestSnapshotOrderedByJoin(t *testing.T) {
	reg := NewRegistry()
	s1 := newNopSession(reg)
	s2 := newNopSession(reg)
	s1.markAuthenticated()
	s2.markAuthenticated()
	if err := reg.Register("bob", s2); err != nil {
		t.Fatalf("Register bob: %v", err)
	}
	if err := reg.Register("alice", s1); err != nil {
		t.Fatalf("Register alice: %v", err)
	}

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot: want 2 sessions, got %d", len(snap))
	}
	if snap[0].ID() > snap[1].ID() && snap[0].JoinedAt().Equal(snap[1].JoinedAt()) {
		t.Fatalf("Snapshot: ties must be broken by session identity")
	}
	if snap[1].JoinedAt().Before(snap[0].JoinedAt()) {
		t.Fatalf("Snapshot: not ordered by join time")
	}
}
