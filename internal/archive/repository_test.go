package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/room"
)

func TestMapResultToPGN(t *testing.T) {
	cases := map[domain.Winner]string{
		domain.WinnerWhite: "1-0",
		domain.WinnerBlack: "0-1",
		domain.WinnerDraw:  "1/2-1/2",
		domain.Winner(""):  "*",
	}
	for w, want := range cases {
		if got := mapResultToPGN(w); got != want {
			t.Errorf("mapResultToPGN(%q) = %q, want %q", w, got, want)
		}
	}
}

func TestBuildPGN(t *testing.T) {
	g := &room.FinishedGame{
		RoomID:      "room-1",
		MatchCode:   "K4PR",
		WhiteWallet: "wallet-white",
		BlackWallet: `wallet"black`,
		Winner:      domain.WinnerBlack,
		Reason:      domain.EndCheckmate,
		MovesSAN:    []string{"f3", "e5", "g4", "Qh4#"},
		StartedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EndedAt:     time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}
	pgn := buildPGN(g, mapResultToPGN(g.Winner))

	for _, want := range []string{
		`[White "wallet-white"]`,
		`[Black "wallet'black"]`, // quotes sanitized
		`[Round "K4PR"]`,
		`[Termination "checkmate"]`,
		`[Result "0-1"]`,
		"1. f3 e5",
		"2. g4 Qh4#",
	} {
		if !strings.Contains(pgn, want) {
			t.Errorf("PGN missing %q:\n%s", want, pgn)
		}
	}
	if !strings.HasSuffix(pgn, "0-1") {
		t.Errorf("PGN should end with the result token:\n%s", pgn)
	}
}

func TestBuildPGNOddPly(t *testing.T) {
	g := &room.FinishedGame{
		WhiteWallet: "w",
		BlackWallet: "b",
		Winner:      domain.WinnerWhite,
		Reason:      domain.EndResignation,
		MovesSAN:    []string{"e4"},
		EndedAt:     time.Now(),
	}
	pgn := buildPGN(g, "1-0")
	if !strings.Contains(pgn, "1. e4 1-0") {
		t.Errorf("odd ply PGN wrong:\n%s", pgn)
	}
}

func TestNewRepositoryRequiresURL(t *testing.T) {
	if _, err := NewRepository("  "); err == nil {
		t.Fatal("blank DATABASE_URL accepted")
	}
}
