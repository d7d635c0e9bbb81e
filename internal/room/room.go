// Package room implements the authoritative game-session state machine:
// turn order, the per-color clocks, move log, terminal verdicts, and the
// disconnect grace window. A room's fields are only ever touched with its
// mutex held; different rooms proceed independently.
package room

import (
	"sync"
	"time"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/rules"
)

// Room is one match. waiting -> active -> finished, no cycles.
type Room struct {
	ID           string
	StakeTier    int
	MatchCode    string // set for hosted matches
	MatchAddress string // on-chain escrow account, when known

	mu sync.Mutex

	white Participant
	black Participant

	whiteMs int64
	blackMs int64
	turn    domain.Color
	moves   []string // SAN, in order
	status  domain.RoomStatus

	lastClockEvent time.Time
	createdAt      time.Time

	winner    domain.Winner
	endReason domain.EndReason

	game rules.Game

	clockStop chan struct{}
	clockOnce sync.Once

	// Disconnect generation per wallet. A reconnect bumps the counter so a
	// stale grace timer firing later is a no-op.
	graceGen map[string]int
}

// colorOfLocked maps a wallet to its side.
func (r *Room) colorOfLocked(wallet string) (domain.Color, bool) {
	switch wallet {
	case r.white.Wallet:
		return domain.White, true
	case r.black.Wallet:
		return domain.Black, true
	}
	return "", false
}

func (r *Room) sideLocked(c domain.Color) *Participant {
	if c == domain.White {
		return &r.white
	}
	return &r.black
}

// chargeElapsedLocked attributes wall-clock time since the last clock event
// to whichever color holds the turn. Both the clock tick and the move path
// go through here so the two agree exactly on the charging formula.
// Returns the color that ran out of time, if any.
func (r *Room) chargeElapsedLocked(now time.Time) (domain.Color, bool) {
	delta := now.Sub(r.lastClockEvent).Milliseconds()
	if delta < 0 {
		delta = 0
	}
	if r.turn == domain.White {
		r.whiteMs -= delta
	} else {
		r.blackMs -= delta
	}
	r.lastClockEvent = now

	if r.whiteMs <= 0 {
		return domain.White, true
	}
	if r.blackMs <= 0 {
		return domain.Black, true
	}
	return "", false
}

// timeUpdateLocked clamps the internal values for display.
func (r *Room) timeUpdateLocked() (whiteMs, blackMs int64, turn domain.Color) {
	whiteMs, blackMs = r.whiteMs, r.blackMs
	if whiteMs < 0 {
		whiteMs = 0
	}
	if blackMs < 0 {
		blackMs = 0
	}
	return whiteMs, blackMs, r.turn
}

// stopClockLocked is idempotent; every path into finished must come through
// here exactly once so the tick goroutine cannot leak.
func (r *Room) stopClockLocked() {
	if r.clockStop == nil {
		return
	}
	r.clockOnce.Do(func() { close(r.clockStop) })
}

func (r *Room) snapshotLocked() *Snapshot {
	moves := append([]string(nil), r.moves...)
	return &Snapshot{
		ID:               r.ID,
		StakeTier:        r.StakeTier,
		MatchCode:        r.MatchCode,
		MatchAddress:     r.MatchAddress,
		White:            r.white,
		Black:            r.black,
		WhiteRemainingMs: maxInt64(r.whiteMs, 0),
		BlackRemainingMs: maxInt64(r.blackMs, 0),
		Turn:             r.turn,
		Moves:            moves,
		Status:           r.status,
		Winner:           r.winner,
		EndReason:        r.endReason,
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
