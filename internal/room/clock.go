package room

import (
	"time"

	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/obslog"
	"github.com/solmate-gg/solmate-server/pkg/gamedto"
)

// startClock launches the per-room tick loop. The loop ends when the room
// finishes (clockStop closes) or a tick reports the room no longer active.
func (m *Manager) startClock(r *Room) {
	ticker := time.NewTicker(m.opts.ClockTick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-r.clockStop:
				return
			case <-ticker.C:
				if !m.tick(r) {
					return
				}
			}
		}
	}()
}

// tick charges elapsed time to the turn holder and either finalizes on a
// flag fall or broadcasts a time update. A panic in a single tick stops the
// clock for that room only.
func (m *Manager) tick(r *Room) (cont bool) {
	defer func() {
		if rec := recover(); rec != nil {
			obslog.L().Error("clock_tick_panic",
				zap.String("room_id", r.ID),
				zap.Any("panic", rec),
			)
			r.mu.Lock()
			r.stopClockLocked()
			r.mu.Unlock()
			cont = false
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.RoomActive {
		r.stopClockLocked()
		return false
	}

	if flag, flagged := r.chargeElapsedLocked(time.Now()); flagged {
		m.finalizeLocked(r, domain.WinnerFor(flag.Other()), domain.EndTimeout)
		return false
	}

	whiteMs, blackMs, turn := r.timeUpdateLocked()
	upd := gamedto.TimeUpdate{
		WhiteRemainingMs: whiteMs,
		BlackRemainingMs: blackMs,
		Turn:             string(turn),
	}
	m.send(r.white.ConnID, gamedto.EvGameTimeUpdate, upd)
	m.send(r.black.ConnID, gamedto.EvGameTimeUpdate, upd)
	return true
}
