package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/player"
	"github.com/solmate-gg/solmate-server/internal/rules"
)

type sentEvent struct {
	ConnID  string
	Event   string
	Payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeNotifier) ToConn(connID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{ConnID: connID, Event: event, Payload: payload})
}

func (f *fakeNotifier) count(connID, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.ConnID == connID && e.Event == event {
			n++
		}
	}
	return n
}

// quiet clock by default; tests that need ticks call tick directly.
func newTestManager(t *testing.T, opts Options) (*Manager, *fakeNotifier, *player.Directory) {
	t.Helper()
	if opts.ClockTick == 0 {
		opts.ClockTick = time.Hour
	}
	if opts.Retention == 0 {
		opts.Retention = time.Hour
	}
	if opts.DisconnectGrace == 0 {
		opts.DisconnectGrace = time.Hour
	}
	opts.CountDisconnectAsLoss = true
	notifier := &fakeNotifier{}
	dir := player.NewDirectory(nil)
	m := NewManager(notifier, dir, rules.NewChessOracle(), opts)
	return m, notifier, dir
}

func registerPair(t *testing.T, dir *player.Directory) {
	t.Helper()
	ctx := context.Background()
	if _, err := dir.Register(ctx, "alice", "conn-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := dir.Register(ctx, "bob", "conn-b"); err != nil {
		t.Fatal(err)
	}
}

func activeRoom(t *testing.T, m *Manager) *Snapshot {
	t.Helper()
	snap, _ := m.CreateActive(
		Participant{Wallet: "alice", ConnID: "conn-a", Rank: domain.RankNovice},
		Participant{Wallet: "bob", ConnID: "conn-b", Rank: domain.RankNovice},
		1, "", "",
	)
	return snap
}

func connOf(snap *Snapshot, c domain.Color) string {
	if c == domain.White {
		return snap.White.ConnID
	}
	return snap.Black.ConnID
}

func walletOf(snap *Snapshot, c domain.Color) string {
	if c == domain.White {
		return snap.White.Wallet
	}
	return snap.Black.Wallet
}

func TestWaitingRoomActivatesOnSecondAttach(t *testing.T) {
	m, notifier, dir := newTestManager(t, Options{})
	registerPair(t, dir)

	snap := m.CreateWaiting(
		Participant{Wallet: "alice", Rank: domain.RankNovice},
		Participant{Wallet: "bob", Rank: domain.RankNovice},
		0,
	)
	if snap.Status != domain.RoomWaiting {
		t.Fatalf("status = %s, want waiting", snap.Status)
	}

	s1, err := m.AttachConn(snap.ID, "alice", "conn-a")
	if err != nil {
		t.Fatal(err)
	}
	if s1.Status != domain.RoomWaiting {
		t.Fatalf("one attach should not activate, got %s", s1.Status)
	}

	s2, err := m.AttachConn(snap.ID, "bob", "conn-b")
	if err != nil {
		t.Fatal(err)
	}
	if s2.Status != domain.RoomActive {
		t.Fatalf("status = %s, want active", s2.Status)
	}
	if notifier.count("conn-a", "game:start") != 1 || notifier.count("conn-b", "game:start") != 1 {
		t.Fatal("both players should receive game:start exactly once")
	}

	if _, err := m.AttachConn(snap.ID, "mallory", "conn-x"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("stranger attach: got %v, want ErrNotParticipant", err)
	}
}

func TestSubmitMoveEnforcesTurnWithoutMutation(t *testing.T) {
	m, _, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	blackWallet := walletOf(snap, domain.Black)
	err := m.SubmitMove(snap.ID, blackWallet, domain.Move{From: "e7", To: "e5"})
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("got %v, want ErrNotYourTurn", err)
	}

	after := m.Get(snap.ID)
	if len(after.Moves) != 0 {
		t.Fatal("rejected move mutated the move log")
	}
	if after.Turn != domain.White {
		t.Fatal("rejected move flipped the turn")
	}

	if err := m.SubmitMove(snap.ID, "nobody", domain.Move{From: "e2", To: "e4"}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("got %v, want ErrNotParticipant", err)
	}
	if err := m.SubmitMove("missing-room", blackWallet, domain.Move{}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("got %v, want ErrRoomNotFound", err)
	}
}

func TestIllegalMoveDoesNotAdvanceGame(t *testing.T) {
	m, _, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)
	whiteWallet := walletOf(snap, domain.White)

	if err := m.SubmitMove(snap.ID, whiteWallet, domain.Move{From: "e2", To: "e5"}); !errors.Is(err, rules.ErrIllegalMove) {
		t.Fatalf("got %v, want ErrIllegalMove", err)
	}
	after := m.Get(snap.ID)
	if len(after.Moves) != 0 || after.Turn != domain.White {
		t.Fatal("illegal move advanced the game")
	}

	// The same player can retry immediately.
	if err := m.SubmitMove(snap.ID, whiteWallet, domain.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatalf("legal retry failed: %v", err)
	}
}

func TestMoveBroadcastGoesToOpponentOnly(t *testing.T) {
	m, notifier, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	whiteConn := connOf(snap, domain.White)
	blackConn := connOf(snap, domain.Black)

	if err := m.SubmitMove(snap.ID, walletOf(snap, domain.White), domain.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatal(err)
	}
	if notifier.count(blackConn, "game:move") != 1 {
		t.Fatal("opponent did not receive game:move")
	}
	if notifier.count(whiteConn, "game:move") != 0 {
		t.Fatal("mover received its own game:move")
	}
	if notifier.count(whiteConn, "game:moveAccepted") != 1 {
		t.Fatal("mover did not receive the ack")
	}

	after := m.Get(snap.ID)
	if after.Turn != domain.Black || len(after.Moves) != 1 || after.Moves[0] != "e4" {
		t.Fatalf("post-move state wrong: %+v", after)
	}
}

func TestClockConservation(t *testing.T) {
	m, _, dir := newTestManager(t, Options{GameDuration: 10 * time.Minute})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	r := m.get(snap.ID)
	r.mu.Lock()
	initial := r.whiteMs + r.blackMs
	now := time.Now()
	r.lastClockEvent = now.Add(-3 * time.Second)
	flag, flagged := r.chargeElapsedLocked(now)
	sum := r.whiteMs + r.blackMs
	white := r.whiteMs
	r.mu.Unlock()

	if flagged {
		t.Fatalf("unexpected flag fall for %s", flag)
	}
	if initial-sum != 3000 {
		t.Fatalf("charged %dms, want 3000", initial-sum)
	}
	if snap.WhiteRemainingMs-white != 3000 {
		t.Fatal("charge went to the wrong side")
	}
}

func TestChargeIsMonotonic(t *testing.T) {
	m, _, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	r := m.get(snap.ID)
	r.mu.Lock()
	before := r.whiteMs
	// A clock that appears to run backwards must charge nothing.
	r.lastClockEvent = time.Now().Add(time.Minute)
	r.chargeElapsedLocked(time.Now())
	after := r.whiteMs
	r.mu.Unlock()

	if after != before {
		t.Fatalf("negative delta charged: %d -> %d", before, after)
	}
}

func TestTickTimeoutFinalizes(t *testing.T) {
	m, notifier, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	r := m.get(snap.ID)
	r.mu.Lock()
	r.whiteMs = 10
	r.lastClockEvent = time.Now().Add(-time.Second)
	r.mu.Unlock()

	if cont := m.tick(r); cont {
		t.Fatal("tick should stop after a flag fall")
	}

	after := m.Get(snap.ID)
	if after.Status != domain.RoomFinished {
		t.Fatalf("status = %s, want finished", after.Status)
	}
	if after.Winner != domain.WinnerBlack || after.EndReason != domain.EndTimeout {
		t.Fatalf("verdict = %s/%s, want black/timeout", after.Winner, after.EndReason)
	}
	if after.WhiteRemainingMs != 0 {
		t.Fatalf("flagged clock reports %dms, want 0", after.WhiteRemainingMs)
	}
	if notifier.count(connOf(snap, domain.White), "game:end") != 1 ||
		notifier.count(connOf(snap, domain.Black), "game:end") != 1 {
		t.Fatal("both players should receive game:end exactly once")
	}
}

func TestSubmitMoveOnFlagFall(t *testing.T) {
	m, _, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	r := m.get(snap.ID)
	r.mu.Lock()
	r.whiteMs = 10
	r.lastClockEvent = time.Now().Add(-time.Second)
	r.mu.Unlock()

	err := m.SubmitMove(snap.ID, walletOf(snap, domain.White), domain.Move{From: "e2", To: "e4"})
	if !errors.Is(err, ErrTimeExpired) {
		t.Fatalf("got %v, want ErrTimeExpired", err)
	}
	after := m.Get(snap.ID)
	if after.Status != domain.RoomFinished || after.EndReason != domain.EndTimeout {
		t.Fatalf("room not finalized on flag fall: %+v", after)
	}
	if len(after.Moves) != 0 {
		t.Fatal("move recorded after time expired")
	}
}

func TestResign(t *testing.T) {
	m, _, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	if err := m.Resign(snap.ID, walletOf(snap, domain.White)); err != nil {
		t.Fatal(err)
	}
	after := m.Get(snap.ID)
	if after.Winner != domain.WinnerBlack || after.EndReason != domain.EndResignation {
		t.Fatalf("verdict = %s/%s, want black/resignation", after.Winner, after.EndReason)
	}

	if err := m.Resign(snap.ID, walletOf(snap, domain.Black)); !errors.Is(err, ErrRoomNotActive) {
		t.Fatalf("resign on finished room: got %v, want ErrRoomNotActive", err)
	}
}

func TestFinalizeHappensOnce(t *testing.T) {
	m, notifier, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	if err := m.Resign(snap.ID, walletOf(snap, domain.White)); err != nil {
		t.Fatal(err)
	}
	// A late terminal report must not overwrite the verdict.
	if err := m.ReportTerminal(snap.ID, domain.WinnerWhite, domain.EndTimeout); err != nil {
		t.Fatal(err)
	}
	after := m.Get(snap.ID)
	if after.Winner != domain.WinnerBlack || after.EndReason != domain.EndResignation {
		t.Fatalf("verdict overwritten: %s/%s", after.Winner, after.EndReason)
	}
	if notifier.count(connOf(snap, domain.White), "game:end") != 1 {
		t.Fatal("game:end sent more than once")
	}
}

func TestCheckmateFinalizesRoom(t *testing.T) {
	m, _, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	white := walletOf(snap, domain.White)
	black := walletOf(snap, domain.Black)
	moves := []struct {
		wallet   string
		from, to string
	}{
		{white, "f2", "f3"},
		{black, "e7", "e5"},
		{white, "g2", "g4"},
		{black, "d8", "h4"},
	}
	for _, mv := range moves {
		if err := m.SubmitMove(snap.ID, mv.wallet, domain.Move{From: mv.from, To: mv.to}); err != nil {
			t.Fatalf("%s-%s: %v", mv.from, mv.to, err)
		}
	}

	after := m.Get(snap.ID)
	if after.Status != domain.RoomFinished {
		t.Fatal("checkmate did not finish the room")
	}
	if after.Winner != domain.WinnerBlack || after.EndReason != domain.EndCheckmate {
		t.Fatalf("verdict = %s/%s, want black/checkmate", after.Winner, after.EndReason)
	}
	if len(after.Moves) != 4 {
		t.Fatalf("move log has %d entries, want 4", len(after.Moves))
	}

	// Stats recorded for both sides.
	bp := dir.ByID(black)
	if bp.GamesPlayed != 1 || bp.GamesWon != 1 {
		t.Fatalf("winner stats: %+v", bp)
	}
	wp := dir.ByID(white)
	if wp.GamesPlayed != 1 || wp.GamesWon != 0 {
		t.Fatalf("loser stats: %+v", wp)
	}
}

func TestDisconnectGraceForfeits(t *testing.T) {
	m, _, dir := newTestManager(t, Options{DisconnectGrace: 30 * time.Millisecond})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	white := walletOf(snap, domain.White)
	m.HandleDisconnect(white, connOf(snap, domain.White))

	deadline := time.Now().Add(time.Second)
	for {
		after := m.Get(snap.ID)
		if after.Status == domain.RoomFinished {
			if after.Winner != domain.WinnerBlack || after.EndReason != domain.EndDisconnect {
				t.Fatalf("verdict = %s/%s, want black/disconnect", after.Winner, after.EndReason)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("grace timer never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReconnectCancelsGrace(t *testing.T) {
	m, _, dir := newTestManager(t, Options{DisconnectGrace: 30 * time.Millisecond})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	white := walletOf(snap, domain.White)
	m.HandleDisconnect(white, connOf(snap, domain.White))
	if _, err := m.AttachConn(snap.ID, white, "conn-a2"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	after := m.Get(snap.ID)
	if after.Status != domain.RoomActive {
		t.Fatalf("reconnect did not cancel grace: status %s, reason %s", after.Status, after.EndReason)
	}
}

func TestStaleDisconnectAfterReconnectIsIgnored(t *testing.T) {
	m, _, dir := newTestManager(t, Options{DisconnectGrace: 30 * time.Millisecond})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	// White reconnects on a fresh socket, then the old socket's read loop
	// finally ends and reports the disconnect.
	white := walletOf(snap, domain.White)
	oldConn := connOf(snap, domain.White)
	if _, err := m.AttachConn(snap.ID, white, "conn-a2"); err != nil {
		t.Fatal(err)
	}
	m.HandleDisconnect(white, oldConn)

	time.Sleep(100 * time.Millisecond)
	after := m.Get(snap.ID)
	if after.Status != domain.RoomActive {
		t.Fatalf("stale teardown forfeited a connected player: status %s, reason %s", after.Status, after.EndReason)
	}
	if after.White.ConnID != "conn-a2" && after.Black.ConnID != "conn-a2" {
		t.Fatal("live connection handle was wiped")
	}
}

func TestWaitingRoomExpiresWhenNeverActivated(t *testing.T) {
	m, notifier, dir := newTestManager(t, Options{ActivationDeadline: 30 * time.Millisecond})
	registerPair(t, dir)

	snap := m.CreateWaiting(
		Participant{Wallet: "alice", Rank: domain.RankNovice},
		Participant{Wallet: "bob", Rank: domain.RankNovice},
		0,
	)
	// Only one side ever joins.
	if _, err := m.AttachConn(snap.ID, "alice", "conn-a"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for m.Get(snap.ID) != nil {
		if time.Now().After(deadline) {
			t.Fatal("never-activated room was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := m.RoomIDByPlayer("alice"); got != "" {
		t.Fatalf("alice still pinned to %q", got)
	}
	if got := m.RoomIDByPlayer("bob"); got != "" {
		t.Fatalf("bob still pinned to %q", got)
	}
	if notifier.count("conn-a", "error") != 1 {
		t.Fatal("attached player was not told the match fell through")
	}
	if p := dir.ByID("alice"); p == nil || p.CurrentRoomID != "" {
		t.Fatalf("alice still marked in-game: %+v", p)
	}
}

func TestRetentionEvictsFinishedRoom(t *testing.T) {
	m, _, dir := newTestManager(t, Options{Retention: 30 * time.Millisecond})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	if err := m.Resign(snap.ID, walletOf(snap, domain.White)); err != nil {
		t.Fatal(err)
	}
	// Late result queries still work inside the window.
	if got := m.Get(snap.ID); got == nil || got.Status != domain.RoomFinished {
		t.Fatal("finished room not queryable inside retention window")
	}

	deadline := time.Now().Add(time.Second)
	for m.Get(snap.ID) != nil {
		if time.Now().After(deadline) {
			t.Fatal("room never evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if m.RoomIDByPlayer("alice") != "" || m.RoomIDByPlayer("bob") != "" {
		t.Fatal("player index not cleaned up")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m, _, dir := newTestManager(t, Options{})
	registerPair(t, dir)
	snap := activeRoom(t, m)

	if err := m.SubmitMove(snap.ID, walletOf(snap, domain.White), domain.Move{From: "e2", To: "e4"}); err != nil {
		t.Fatal(err)
	}
	got := m.Get(snap.ID)
	got.Moves[0] = "tampered"
	if fresh := m.Get(snap.ID); fresh.Moves[0] != "e4" {
		t.Fatal("snapshot shares backing array with the room")
	}
}
