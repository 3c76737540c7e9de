package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestRegistry_JoinLeaveReplay(t *testing.T) {
	r := NewRegistry[int](0)

	ops := []struct {
		join     bool
		room, id string
	}{
		{true, "standup", "a"},
		{true, "standup", "b"},
		{true, "retro", "c"},
		{false, "standup", "a"},
		{true, "standup", "a"},
		{false, "retro", "c"},
		{false, "retro", "c"}, // duplicate leave tolerated
	}
	for i, op := range ops {
		if op.join {
			if err := r.Join(op.room, op.id, i); err != nil {
				t.Fatalf("op %d: Join(%s,%s): %v", i, op.room, op.id, err)
			}
		} else {
			r.Leave(op.room, op.id)
		}
	}

	if got := r.Size("standup"); got != 2 {
		t.Fatalf("standup size = %d, want 2", got)
	}
	if got := r.Size("retro"); got != 0 {
		t.Fatalf("retro size = %d, want 0", got)
	}
	if got := r.RoomCount(); got != 1 {
		t.Fatalf("room count = %d, want 1 (empty rooms must be dropped)", got)
	}
}

func TestRegistry_DuplicateParticipant(t *testing.T) {
	r := NewRegistry[string](0)
	if err := r.Join("standup", "a", "first"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	err := r.Join("standup", "a", "second")
	if !errors.Is(err, ErrDuplicateParticipant) {
		t.Fatalf("got %v, want ErrDuplicateParticipant", err)
	}
	// The existing connection wins.
	conn, ok := r.Lookup("standup", "a")
	if !ok || conn != "first" {
		t.Fatalf("Lookup = %q,%v; want first,true", conn, ok)
	}
}

func TestRegistry_RoomFull(t *testing.T) {
	r := NewRegistry[int](2)
	if err := r.Join("standup", "a", 1); err != nil {
		t.Fatalf("Join a: %v", err)
	}
	if err := r.Join("standup", "b", 2); err != nil {
		t.Fatalf("Join b: %v", err)
	}
	if err := r.Join("standup", "c", 3); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("got %v, want ErrRoomFull", err)
	}
}

func TestRegistry_OthersExcludesSender(t *testing.T) {
	r := NewRegistry[int](0)
	for i, id := range []string{"a", "b", "c", "d"} {
		if err := r.Join("standup", id, i); err != nil {
			t.Fatalf("Join %s: %v", id, err)
		}
	}

	seen := map[string]bool{}
	for id := range r.Others("standup", "b") {
		seen[id] = true
	}
	if len(seen) != 3 || seen["b"] {
		t.Fatalf("Others delivered to %v, want everyone but b", seen)
	}

	// The sequence is restartable.
	n := 0
	others := r.Others("standup", "b")
	for range others {
		n++
	}
	for range others {
		n++
	}
	if n != 6 {
		t.Fatalf("restarted iteration yielded %d, want 6", n)
	}
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry[int](0)
	if _, ok := r.Lookup("nowhere", "a"); ok {
		t.Fatalf("Lookup on missing room should report absence")
	}
	_ = r.Join("standup", "a", 1)
	if _, ok := r.Lookup("standup", "gone"); ok {
		t.Fatalf("Lookup on missing participant should report absence")
	}
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := NewRegistry[int](0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("client-%d", g)
			for i := 0; i < 200; i++ {
				if err := r.Join("busy", id, i); err != nil {
					t.Errorf("Join: %v", err)
					return
				}
				for range r.Others("busy", id) {
				}
				r.Leave("busy", id)
			}
		}(g)
	}
	wg.Wait()
	if r.Size("busy") != 0 {
		t.Fatalf("expected empty room after churn, got %d", r.Size("busy"))
	}
	if r.RoomCount() != 0 {
		t.Fatalf("expected no rooms after churn")
	}
}
