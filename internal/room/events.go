package room

import (
	"context"
	"time"

	"github.com/solmate-gg/solmate-server/internal/domain"
)

// Notifier pushes a server event to one connection handle. Implemented by
// the websocket hub; an empty conn id is a no-op.
type Notifier interface {
	ToConn(connID, event string, payload any)
}

// Archiver persists the record of a finished game. Optional.
type Archiver interface {
	SaveGame(ctx context.Context, g *FinishedGame) error
}

// Settler delivers the final verdict to the external settlement layer.
// Optional and advisory: a failure here never corrupts room state.
type Settler interface {
	ReportResult(ctx context.Context, v *Verdict) error
}

// Participant is one side of a match at room-creation time. ConnID may be
// empty for queue-paired rooms until the player attaches.
type Participant struct {
	Wallet string
	ConnID string
	Rank   domain.Rank
}

// FinishedGame is the immutable record handed to the archiver.
type FinishedGame struct {
	RoomID       string
	MatchCode    string
	MatchAddress string
	StakeTier    int
	WhiteWallet  string
	BlackWallet  string
	Winner       domain.Winner
	Reason       domain.EndReason
	MovesSAN     []string
	FinalFEN     string
	StartedAt    time.Time
	EndedAt      time.Time
}

// Verdict is what the settlement layer needs: which match, who won, why.
type Verdict struct {
	RoomID       string
	MatchCode    string
	MatchAddress string
	StakeTier    int
	Winner       domain.Winner
	WinnerWallet string
	Reason       domain.EndReason
}

// Snapshot is a point-in-time copy of a room's public state.
type Snapshot struct {
	ID               string
	StakeTier        int
	MatchCode        string
	MatchAddress     string
	White            Participant
	Black            Participant
	WhiteRemainingMs int64
	BlackRemainingMs int64
	Turn             domain.Color
	Moves            []string
	Status           domain.RoomStatus
	Winner           domain.Winner
	EndReason        domain.EndReason
}

// ColorOf returns the color a wallet plays in this snapshot, or "" if the
// wallet is not a participant.
func (s *Snapshot) ColorOf(wallet string) domain.Color {
	switch wallet {
	case s.White.Wallet:
		return domain.White
	case s.Black.Wallet:
		return domain.Black
	}
	return ""
}

// Opponent returns the other side's participant record.
func (s *Snapshot) Opponent(wallet string) Participant {
	if s.White.Wallet == wallet {
		return s.Black
	}
	return s.White
}
