package player

import (
	"context"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/solmate-gg/solmate-server/internal/domain"
)

func newTestStore(t *testing.T) *StatsStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	store, err := NewStatsStore(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewStatsStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRegisterAndReconnect(t *testing.T) {
	d := NewDirectory(nil)
	ctx := context.Background()

	p, err := d.Register(ctx, "wallet-a", "conn-1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.Rank != domain.RankNovice || p.GamesPlayed != 0 {
		t.Fatalf("fresh player has unexpected record: %+v", p)
	}

	// Same wallet, new socket: record survives, handle swaps.
	if err := d.RecordResult(ctx, "wallet-a", Result{Won: true, StakeTier: 0, OpponentRank: domain.RankNovice}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	p2, err := d.Register(ctx, "wallet-a", "conn-2")
	if err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if p2.GamesPlayed != 1 || p2.GamesWon != 1 {
		t.Fatalf("record lost on reconnect: %+v", p2)
	}
	if d.ByConn("conn-1") != nil {
		t.Error("stale conn handle still resolves")
	}
	if got := d.ByConn("conn-2"); got == nil || got.WalletAddress != "wallet-a" {
		t.Error("new conn handle does not resolve")
	}
}

func TestRegisterValidation(t *testing.T) {
	d := NewDirectory(nil)
	if _, err := d.Register(context.Background(), "  ", "conn"); err != ErrInvalidArgs {
		t.Fatalf("blank wallet: got %v, want ErrInvalidArgs", err)
	}
	if _, err := d.Register(context.Background(), "w", ""); err != ErrInvalidArgs {
		t.Fatalf("blank conn: got %v, want ErrInvalidArgs", err)
	}
}

func TestRecordResultBookkeeping(t *testing.T) {
	d := NewDirectory(nil)
	ctx := context.Background()
	if _, err := d.Register(ctx, "w1", "c1"); err != nil {
		t.Fatal(err)
	}

	// Win at tier 1 (1 SOL): +0.8 profit after the platform fee.
	if err := d.RecordResult(ctx, "w1", Result{Won: true, StakeTier: 1, OpponentRank: domain.RankNovice}); err != nil {
		t.Fatal(err)
	}
	p := d.ByID("w1")
	if p.SolProfit != 0.8 || p.TotalWagered != 1.0 || p.XP != 50 {
		t.Fatalf("after win: %+v", p)
	}

	// Loss at tier 1: -1 SOL.
	if err := d.RecordResult(ctx, "w1", Result{Won: false, StakeTier: 1, OpponentRank: domain.RankNovice}); err != nil {
		t.Fatal(err)
	}
	p = d.ByID("w1")
	if p.SolProfit != -0.19999999999999996 && p.SolProfit != -0.2 {
		t.Fatalf("after loss: profit %v", p.SolProfit)
	}
	if p.GamesPlayed != 2 || p.GamesWon != 1 || p.XP != 60 {
		t.Fatalf("after loss: %+v", p)
	}

	// Draw: stakes returned, wager still counted.
	if err := d.RecordResult(ctx, "w1", Result{Draw: true, StakeTier: 1, OpponentRank: domain.RankNovice}); err != nil {
		t.Fatal(err)
	}
	p2 := d.ByID("w1")
	if p2.SolProfit != p.SolProfit {
		t.Fatalf("draw moved profit: %v -> %v", p.SolProfit, p2.SolProfit)
	}
	if p2.TotalWagered != 3.0 || p2.GamesWon != 1 {
		t.Fatalf("after draw: %+v", p2)
	}

	if err := d.RecordResult(ctx, "ghost", Result{}); err != ErrNotFound {
		t.Fatalf("unknown wallet: got %v, want ErrNotFound", err)
	}
}

func TestStatsPersistAcrossSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d1 := NewDirectory(store)
	if _, err := d1.Register(ctx, "w1", "c1"); err != nil {
		t.Fatal(err)
	}
	if err := d1.RecordResult(ctx, "w1", Result{Won: true, StakeTier: 2, OpponentRank: domain.RankAmateur}); err != nil {
		t.Fatal(err)
	}

	// A brand-new directory (fresh process) sees the persisted record.
	d2 := NewDirectory(store)
	p, err := d2.Register(ctx, "w1", "c9")
	if err != nil {
		t.Fatal(err)
	}
	if p.GamesPlayed != 1 || p.GamesWon != 1 || p.XP != 60 {
		t.Fatalf("persisted stats not loaded: %+v", p)
	}
	if p.Rank != domain.RankForXP(p.XP) {
		t.Fatalf("rank not rederived: %+v", p)
	}
}

func TestRemoveByConnKeepsInGamePlayers(t *testing.T) {
	d := NewDirectory(nil)
	ctx := context.Background()
	if _, err := d.Register(ctx, "w1", "c1"); err != nil {
		t.Fatal(err)
	}
	d.SetCurrentRoom("w1", "room-1")
	d.RemoveByConn("c1")
	if d.ByID("w1") == nil {
		t.Fatal("in-game player evicted on disconnect")
	}

	d.SetCurrentRoom("w1", "")
	if _, err := d.Register(ctx, "w1", "c2"); err != nil {
		t.Fatal(err)
	}
	d.RemoveByConn("c2")
	if d.ByID("w1") != nil {
		t.Fatal("idle player not evicted on disconnect")
	}
}
