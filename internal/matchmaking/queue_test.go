package matchmaking

import (
	"errors"
	"testing"
	"time"

	"github.com/solmate-gg/solmate-server/internal/domain"
)

func entry(wallet string, tier domain.SkillTier, at time.Time) Entry {
	return Entry{Wallet: wallet, ConnID: "conn-" + wallet, SkillTier: tier, EnqueuedAt: at}
}

func TestEnqueueRejectsDoubleJoin(t *testing.T) {
	q := New(30 * time.Second)
	if _, err := q.Enqueue(0, entry("a", domain.SkillNew, time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(0, entry("a", domain.SkillNew, time.Now())); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("same tier rejoin: got %v, want ErrAlreadyQueued", err)
	}
	if _, err := q.Enqueue(1, entry("a", domain.SkillNew, time.Now())); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("cross tier rejoin: got %v, want ErrAlreadyQueued", err)
	}
	if _, err := q.Enqueue(99, entry("b", domain.SkillNew, time.Now())); !errors.Is(err, ErrBadStakeTier) {
		t.Fatalf("bad tier: got %v, want ErrBadStakeTier", err)
	}
}

func TestQueuePositions(t *testing.T) {
	q := New(30 * time.Second)
	now := time.Now()
	for i, w := range []string{"a", "b", "c"} {
		pos, err := q.Enqueue(2, entry(w, domain.SkillNeutral, now.Add(time.Duration(i)*time.Millisecond)))
		if err != nil {
			t.Fatal(err)
		}
		if pos != i+1 {
			t.Fatalf("enqueue %q: pos %d, want %d", w, pos, i+1)
		}
	}
	if tier, pos, ok := q.Position("b"); !ok || tier != 2 || pos != 2 {
		t.Fatalf("Position(b) = %d/%d/%v", tier, pos, ok)
	}
	if !q.Leave("a") {
		t.Fatal("leave failed")
	}
	if _, pos, _ := q.Position("b"); pos != 1 {
		t.Fatalf("position after head leave = %d, want 1", pos)
	}
	if q.Leave("a") {
		t.Fatal("double leave succeeded")
	}
}

func TestTiersAreIsolated(t *testing.T) {
	q := New(30 * time.Second)
	now := time.Now()
	if _, err := q.Enqueue(0, entry("a", domain.SkillNeutral, now)); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(1, entry("b", domain.SkillNeutral, now)); err != nil {
		t.Fatal(err)
	}
	if pairs := q.MatchAll(now); len(pairs) != 0 {
		t.Fatalf("cross-tier pairing happened: %+v", pairs)
	}
	depths := q.Depths()
	if depths[0] != 1 || depths[1] != 1 || depths[2] != 0 {
		t.Fatalf("depths = %v", depths)
	}
}

func TestCompatiblePairMatchesImmediately(t *testing.T) {
	q := New(30 * time.Second)
	now := time.Now()
	q.Enqueue(0, entry("a", domain.SkillNeutral, now.Add(-2*time.Second)))
	q.Enqueue(0, entry("b", domain.SkillPositive, now.Add(-time.Second)))

	pairs := q.MatchTier(0, now)
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	p := pairs[0]
	if p.A.Wallet != "a" || p.B.Wallet != "b" {
		t.Fatalf("pair order wrong: %s vs %s", p.A.Wallet, p.B.Wallet)
	}
	if d := q.Depths()[0]; d != 0 {
		t.Fatalf("matched entries still queued, depth %d", d)
	}
}

func TestIncompatiblePairWaitsForFallback(t *testing.T) {
	q := New(30 * time.Second)
	now := time.Now()
	// new and positive never pair on skill alone.
	q.Enqueue(1, entry("fresh", domain.SkillNew, now.Add(-10*time.Second)))
	q.Enqueue(1, entry("shark", domain.SkillPositive, now.Add(-10*time.Second)))

	if pairs := q.MatchTier(1, now); len(pairs) != 0 {
		t.Fatalf("incompatible pair matched early: %+v", pairs)
	}

	// Once the head has waited past the fallback window, anyone will do.
	later := now.Add(25 * time.Second)
	pairs := q.MatchTier(1, later)
	if len(pairs) != 1 {
		t.Fatalf("fallback produced %d pairs, want 1", len(pairs))
	}
	if pairs[0].A.Wallet != "fresh" {
		t.Fatalf("fallback skipped the longest waiter: %s", pairs[0].A.Wallet)
	}
}

func TestClustersPairWithinThemselves(t *testing.T) {
	q := New(30 * time.Second)
	now := time.Now()
	q.Enqueue(1, entry("a", domain.SkillNew, now.Add(-3*time.Second)))
	q.Enqueue(1, entry("b", domain.SkillNegative, now.Add(-2*time.Second)))
	q.Enqueue(1, entry("c", domain.SkillPositive, now.Add(-time.Second)))

	pairs := q.MatchTier(1, now)
	if len(pairs) != 1 || pairs[0].A.Wallet != "a" || pairs[0].B.Wallet != "b" {
		t.Fatalf("got %+v, want a/b paired", pairs)
	}
	if _, _, ok := q.Position("c"); !ok {
		t.Fatal("positive-tier player dropped instead of waiting")
	}

	q.Enqueue(1, entry("d", domain.SkillPositive, now))
	pairs = q.MatchTier(1, now)
	if len(pairs) != 1 || pairs[0].A.Wallet != "c" || pairs[0].B.Wallet != "d" {
		t.Fatalf("got %+v, want c/d paired", pairs)
	}
}

func TestLongestWaitersPairFirst(t *testing.T) {
	q := New(30 * time.Second)
	now := time.Now()
	q.Enqueue(0, entry("old", domain.SkillNeutral, now.Add(-3*time.Second)))
	q.Enqueue(0, entry("mid", domain.SkillNew, now.Add(-2*time.Second)))
	q.Enqueue(0, entry("new", domain.SkillNeutral, now.Add(-time.Second)))

	pairs := q.MatchTier(0, now)
	if len(pairs) != 1 {
		t.Fatalf("got %d pairs, want 1", len(pairs))
	}
	// "old" skips incompatible "mid" and takes "new".
	if pairs[0].A.Wallet != "old" || pairs[0].B.Wallet != "new" {
		t.Fatalf("pair = %s/%s, want old/new", pairs[0].A.Wallet, pairs[0].B.Wallet)
	}
	if _, _, ok := q.Position("mid"); !ok {
		t.Fatal("unmatched player dropped from queue")
	}
}

func TestMatchTierDrainsAllPairs(t *testing.T) {
	q := New(30 * time.Second)
	now := time.Now()
	for i, w := range []string{"a", "b", "c", "d"} {
		q.Enqueue(0, entry(w, domain.SkillNeutral, now.Add(time.Duration(i)*time.Millisecond)))
	}
	pairs := q.MatchTier(0, now)
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if q.Depths()[0] != 0 {
		t.Fatal("queue not drained")
	}
}

func TestLeaveByConn(t *testing.T) {
	q := New(30 * time.Second)
	q.Enqueue(0, entry("a", domain.SkillNeutral, time.Now()))
	wallet, ok := q.LeaveByConn("conn-a")
	if !ok || wallet != "a" {
		t.Fatalf("LeaveByConn = %q/%v", wallet, ok)
	}
	if _, ok := q.LeaveByConn("conn-a"); ok {
		t.Fatal("stale conn still removable")
	}
}
