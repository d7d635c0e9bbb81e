package room

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/obslog"
	"github.com/solmate-gg/solmate-server/internal/player"
	"github.com/solmate-gg/solmate-server/internal/rules"
	"github.com/solmate-gg/solmate-server/pkg/gamedto"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomNotActive  = errors.New("room is not active")
	ErrNotParticipant = errors.New("player is not in this room")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrTimeExpired    = errors.New("time expired")
)

// Options bundle the tunable windows. Zero values fall back to the spec
// defaults so tests can construct a Manager tersely.
type Options struct {
	GameDuration       time.Duration
	ClockTick          time.Duration
	DisconnectGrace    time.Duration
	Retention          time.Duration
	ActivationDeadline time.Duration

	CountDisconnectAsLoss bool
}

func (o *Options) withDefaults() {
	if o.GameDuration <= 0 {
		o.GameDuration = domain.GameDuration
	}
	if o.ClockTick <= 0 {
		o.ClockTick = time.Second
	}
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = 30 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = 60 * time.Second
	}
	if o.ActivationDeadline <= 0 {
		o.ActivationDeadline = 2 * time.Minute
	}
}

// Manager owns every live room. It is the only component allowed to mutate
// clocks, turn order and move logs.
type Manager struct {
	mu           sync.RWMutex
	rooms        map[string]*Room
	playerToRoom map[string]string

	notifier Notifier
	dir      *player.Directory
	oracle   rules.Oracle

	archiver Archiver
	settler  Settler

	opts Options
}

func NewManager(notifier Notifier, dir *player.Directory, oracle rules.Oracle, opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		rooms:        make(map[string]*Room),
		playerToRoom: make(map[string]string),
		notifier:     notifier,
		dir:          dir,
		oracle:       oracle,
		opts:         opts,
	}
}

// AttachArchiver wires the optional finished-game archive.
func (m *Manager) AttachArchiver(a Archiver) { m.archiver = a }

// AttachSettler wires the optional settlement notifier.
func (m *Manager) AttachSettler(s Settler) { m.settler = s }

// CreateWaiting allocates a room for two queue-paired players whose
// connections will attach via game:joinRoom. White is chosen at random.
func (m *Manager) CreateWaiting(p1, p2 Participant, stakeTier int) *Snapshot {
	white, black := p1, p2
	if coinFlip() {
		white, black = p2, p1
	}
	// Handles bind on attach, not at pairing time.
	white.ConnID = ""
	black.ConnID = ""
	r := m.newRoom(white, black, stakeTier, "", "", domain.RoomWaiting)
	m.register(r)
	// A pairing one side never joins must not pin both players forever.
	roomID := r.ID
	time.AfterFunc(m.opts.ActivationDeadline, func() { m.activationExpired(roomID) })

	obslog.L().Info("room_create",
		zap.String("room_id", r.ID),
		zap.Int("stake_tier", stakeTier),
		zap.String("white", white.Wallet),
		zap.String("black", black.Wallet),
	)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// CreateActive allocates a room where both connection handles are already
// known (hosted-match joins). The room starts active and on the clock.
// Returns the snapshot and the color assigned to the first participant.
func (m *Manager) CreateActive(host, guest Participant, stakeTier int, matchCode, matchAddress string) (*Snapshot, domain.Color) {
	hostColor := domain.White
	white, black := host, guest
	if coinFlip() {
		white, black = guest, host
		hostColor = domain.Black
	}
	r := m.newRoom(white, black, stakeTier, matchCode, matchAddress, domain.RoomActive)
	r.lastClockEvent = time.Now()
	m.register(r)
	m.startClock(r)

	obslog.L().Info("room_create",
		zap.String("room_id", r.ID),
		zap.String("match_code", matchCode),
		zap.Int("stake_tier", stakeTier),
		zap.String("white", white.Wallet),
		zap.String("black", black.Wallet),
	)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(), hostColor
}

func (m *Manager) newRoom(white, black Participant, stakeTier int, matchCode, matchAddress string, status domain.RoomStatus) *Room {
	ms := m.opts.GameDuration.Milliseconds()
	return &Room{
		ID:             uuid.NewString(),
		StakeTier:      stakeTier,
		MatchCode:      matchCode,
		MatchAddress:   matchAddress,
		white:          white,
		black:          black,
		whiteMs:        ms,
		blackMs:        ms,
		turn:           domain.White,
		status:         status,
		createdAt:      time.Now(),
		lastClockEvent: time.Now(),
		game:           m.oracle.NewGame(),
		clockStop:      make(chan struct{}),
		graceGen:       make(map[string]int),
	}
}

func (m *Manager) register(r *Room) {
	m.mu.Lock()
	m.rooms[r.ID] = r
	m.playerToRoom[r.white.Wallet] = r.ID
	m.playerToRoom[r.black.Wallet] = r.ID
	m.mu.Unlock()
	if m.dir != nil {
		m.dir.SetCurrentRoom(r.white.Wallet, r.ID)
		m.dir.SetCurrentRoom(r.black.Wallet, r.ID)
	}
}

func (m *Manager) get(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// Get returns a snapshot of the room, or nil.
func (m *Manager) Get(roomID string) *Snapshot {
	r := m.get(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// RoomIDByPlayer returns the room a wallet currently belongs to, or "".
func (m *Manager) RoomIDByPlayer(wallet string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.playerToRoom[wallet]
}

// Counts returns total and active room counts for the health surface.
func (m *Manager) Counts() (total, active int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total = len(m.rooms)
	for _, r := range m.rooms {
		r.mu.Lock()
		if r.status == domain.RoomActive {
			active++
		}
		r.mu.Unlock()
	}
	return total, active
}

// AttachConn binds a connection handle to the side owned by wallet. When
// the second handle arrives on a waiting room the game activates and the
// clock starts. A rebind on an active room is a reconnect: it invalidates
// any pending disconnect grace timer for that wallet.
func (m *Manager) AttachConn(roomID, wallet, connID string) (*Snapshot, error) {
	r := m.get(roomID)
	if r == nil {
		return nil, ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	color, ok := r.colorOfLocked(wallet)
	if !ok {
		return nil, ErrNotParticipant
	}
	r.sideLocked(color).ConnID = connID
	r.graceGen[wallet]++ // any pending grace timer is now stale

	if r.status == domain.RoomWaiting && r.white.ConnID != "" && r.black.ConnID != "" {
		r.status = domain.RoomActive
		r.lastClockEvent = time.Now()
		m.startClock(r)
		obslog.L().Info("room_active", zap.String("room_id", r.ID))

		whiteMs, blackMs, _ := r.timeUpdateLocked()
		start := gamedto.GameStartEvent{WhiteRemainingMs: whiteMs, BlackRemainingMs: blackMs}
		m.send(r.white.ConnID, gamedto.EvGameStart, start)
		m.send(r.black.ConnID, gamedto.EvGameStart, start)
	}
	return r.snapshotLocked(), nil
}

// SubmitMove validates, charges the mover's clock, applies the move through
// the rules oracle and broadcasts to the opponent. Oracle-reported terminal
// outcomes and clock exhaustion finalize the room in the same critical
// section.
func (m *Manager) SubmitMove(roomID, wallet string, mv domain.Move) error {
	r := m.get(roomID)
	if r == nil {
		return ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.RoomActive {
		return ErrRoomNotActive
	}
	color, ok := r.colorOfLocked(wallet)
	if !ok {
		return ErrNotParticipant
	}
	if color != r.turn {
		return ErrNotYourTurn
	}

	// Same charging formula as the clock tick; the mover pays for the wall
	// time the move took, not a fixed per-move cost.
	if flag, flagged := r.chargeElapsedLocked(time.Now()); flagged {
		m.finalizeLocked(r, domain.WinnerFor(flag.Other()), domain.EndTimeout)
		return ErrTimeExpired
	}

	san, outcome, err := r.game.Apply(mv.From, mv.To, mv.Promotion)
	if err != nil {
		return err
	}

	r.moves = append(r.moves, san)
	r.turn = r.turn.Other()

	whiteMs, blackMs, turn := r.timeUpdateLocked()
	upd := gamedto.TimeUpdate{WhiteRemainingMs: whiteMs, BlackRemainingMs: blackMs, Turn: string(turn)}

	// Opponent gets the move; the mover only gets an ack, its client already
	// applied the move locally.
	opponent := r.sideLocked(color.Other())
	m.send(opponent.ConnID, gamedto.EvGameMove, gamedto.MoveEvent{
		Move: gamedto.MovePayload{
			From:        mv.From,
			To:          mv.To,
			Promotion:   mv.Promotion,
			SANNotation: san,
		},
		TimeUpdate: upd,
	})
	m.send(r.sideLocked(color).ConnID, gamedto.EvGameMoveAccepted, gamedto.MoveAcceptedEvent{
		RoomID:     r.ID,
		SAN:        san,
		TimeUpdate: upd,
	})

	obslog.L().Debug("room_move",
		zap.String("room_id", r.ID),
		zap.String("wallet", wallet),
		zap.String("san", san),
		zap.Int("ply", len(r.moves)),
	)

	switch outcome {
	case rules.WhiteWon:
		m.finalizeLocked(r, domain.WinnerWhite, domain.EndCheckmate)
	case rules.BlackWon:
		m.finalizeLocked(r, domain.WinnerBlack, domain.EndCheckmate)
	case rules.Draw:
		m.finalizeLocked(r, domain.WinnerDraw, domain.EndDraw)
	}
	return nil
}

// Resign finalizes the room with the other color winning.
func (m *Manager) Resign(roomID, wallet string) error {
	r := m.get(roomID)
	if r == nil {
		return ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.RoomActive {
		return ErrRoomNotActive
	}
	color, ok := r.colorOfLocked(wallet)
	if !ok {
		return ErrNotParticipant
	}
	m.finalizeLocked(r, domain.WinnerFor(color.Other()), domain.EndResignation)
	return nil
}

// ReportTerminal accepts an externally-determined terminal condition.
func (m *Manager) ReportTerminal(roomID string, winner domain.Winner, reason domain.EndReason) error {
	r := m.get(roomID)
	if r == nil {
		return ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == domain.RoomFinished {
		return nil
	}
	m.finalizeLocked(r, winner, reason)
	return nil
}

// HandleDisconnect starts the grace window for a wallet's active room. If
// the player has not re-attached when the timer fires, the opponent wins
// with reason disconnect. connID must be the handle that went away: a
// teardown from a socket the player already replaced is ignored, so a slow
// close on the old connection cannot forfeit a reconnected player.
func (m *Manager) HandleDisconnect(wallet, connID string) {
	roomID := m.RoomIDByPlayer(wallet)
	if roomID == "" {
		return
	}
	r := m.get(roomID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != domain.RoomActive {
		return
	}
	color, ok := r.colorOfLocked(wallet)
	if !ok {
		return
	}
	if r.sideLocked(color).ConnID != connID {
		return // stale teardown, the player is on a newer socket
	}
	r.sideLocked(color).ConnID = "" // no more pushes to the dead handle
	r.graceGen[wallet]++
	gen := r.graceGen[wallet]

	obslog.L().Info("room_disconnect_grace",
		zap.String("room_id", r.ID),
		zap.String("wallet", wallet),
		zap.Duration("grace", m.opts.DisconnectGrace),
	)
	time.AfterFunc(m.opts.DisconnectGrace, func() {
		m.graceExpired(roomID, wallet, gen)
	})
}

func (m *Manager) graceExpired(roomID, wallet string, gen int) {
	r := m.get(roomID)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != domain.RoomActive {
		return
	}
	// A reconnect bumped the generation; this timer is stale.
	if r.graceGen[wallet] != gen {
		return
	}
	color, ok := r.colorOfLocked(wallet)
	if !ok {
		return
	}
	obslog.L().Info("room_disconnect_forfeit", zap.String("room_id", r.ID), zap.String("wallet", wallet))
	m.finalizeLocked(r, domain.WinnerFor(color.Other()), domain.EndDisconnect)
}

// activationExpired tears down a pairing that never reached active: no
// clock ran and no stake moved, so the room is evicted rather than
// finalized. Anyone who did attach is told the match fell through.
func (m *Manager) activationExpired(roomID string) {
	r := m.get(roomID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.status != domain.RoomWaiting {
		r.mu.Unlock()
		return
	}
	r.status = domain.RoomFinished // a racing attach must not activate
	whiteConn, blackConn := r.white.ConnID, r.black.ConnID
	r.mu.Unlock()

	obslog.L().Info("room_activation_expired", zap.String("room_id", roomID))
	for _, conn := range []string{whiteConn, blackConn} {
		m.send(conn, gamedto.EvError, gamedto.ErrorEvent{Message: "Match expired before both players joined"})
	}
	if m.dir != nil {
		m.dir.SetCurrentRoom(r.white.Wallet, "")
		m.dir.SetCurrentRoom(r.black.Wallet, "")
	}
	m.remove(roomID)
}

// finalizeLocked moves the room to finished, stops the clock exactly once,
// notifies both sides with their own color for perspective, applies the
// advisory bookkeeping and schedules eviction. Caller holds r.mu.
func (m *Manager) finalizeLocked(r *Room, winner domain.Winner, reason domain.EndReason) {
	if r.status == domain.RoomFinished {
		return
	}
	r.status = domain.RoomFinished
	r.winner = winner
	r.endReason = reason
	r.stopClockLocked()

	whiteMs, blackMs, _ := r.timeUpdateLocked()
	for _, side := range []struct {
		p     Participant
		color domain.Color
	}{{r.white, domain.White}, {r.black, domain.Black}} {
		m.send(side.p.ConnID, gamedto.EvGameEnd, gamedto.GameEndEvent{
			Winner:           string(winner),
			Reason:           string(reason),
			YourColor:        string(side.color),
			WhiteRemainingMs: whiteMs,
			BlackRemainingMs: blackMs,
		})
	}

	obslog.L().Info("room_end",
		zap.String("room_id", r.ID),
		zap.String("winner", string(winner)),
		zap.String("reason", string(reason)),
		zap.Int("moves", len(r.moves)),
	)

	m.recordResultsLocked(r, winner, reason)

	snap := r.snapshotLocked()
	finished := &FinishedGame{
		RoomID:       r.ID,
		MatchCode:    r.MatchCode,
		MatchAddress: r.MatchAddress,
		StakeTier:    r.StakeTier,
		WhiteWallet:  r.white.Wallet,
		BlackWallet:  r.black.Wallet,
		Winner:       winner,
		Reason:       reason,
		MovesSAN:     snap.Moves,
		FinalFEN:     r.game.FEN(),
		StartedAt:    r.createdAt,
		EndedAt:      time.Now(),
	}
	verdict := &Verdict{
		RoomID:       r.ID,
		MatchCode:    r.MatchCode,
		MatchAddress: r.MatchAddress,
		StakeTier:    r.StakeTier,
		Winner:       winner,
		WinnerWallet: winnerWallet(r, winner),
		Reason:       reason,
	}
	go m.afterFinish(finished, verdict)

	roomID := r.ID
	time.AfterFunc(m.opts.Retention, func() { m.remove(roomID) })
}

func (m *Manager) recordResultsLocked(r *Room, winner domain.Winner, reason domain.EndReason) {
	if m.dir == nil {
		return
	}
	draw := winner == domain.WinnerDraw
	for _, side := range []struct {
		p        Participant
		opponent Participant
		color    domain.Color
	}{
		{r.white, r.black, domain.White},
		{r.black, r.white, domain.Black},
	} {
		won := !draw && winner == domain.WinnerFor(side.color)
		if reason == domain.EndDisconnect && !won && !m.opts.CountDisconnectAsLoss {
			// Policy point: the walkaway is not charged a loss.
			m.dir.SetCurrentRoom(side.p.Wallet, "")
			continue
		}
		_ = m.dir.RecordResult(context.Background(), side.p.Wallet, player.Result{
			Won:          won,
			Draw:         draw,
			StakeTier:    r.StakeTier,
			OpponentRank: side.opponent.Rank,
		})
		m.dir.SetCurrentRoom(side.p.Wallet, "")
	}
}

// afterFinish runs the archive and settlement hooks off the room lock.
func (m *Manager) afterFinish(g *FinishedGame, v *Verdict) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if m.archiver != nil {
		if err := m.archiver.SaveGame(ctx, g); err != nil {
			obslog.L().Error("room_archive_error", zap.String("room_id", g.RoomID), zap.Error(err))
		}
	}
	if m.settler != nil {
		if err := m.settler.ReportResult(ctx, v); err != nil {
			obslog.L().Error("room_settlement_error", zap.String("room_id", v.RoomID), zap.Error(err))
		}
	}
}

func (m *Manager) remove(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return
	}
	if m.playerToRoom[r.white.Wallet] == roomID {
		delete(m.playerToRoom, r.white.Wallet)
	}
	if m.playerToRoom[r.black.Wallet] == roomID {
		delete(m.playerToRoom, r.black.Wallet)
	}
	delete(m.rooms, roomID)
	obslog.L().Info("room_evict", zap.String("room_id", roomID))
}

func (m *Manager) send(connID, event string, payload any) {
	if m.notifier == nil || connID == "" {
		return
	}
	m.notifier.ToConn(connID, event, payload)
}

func winnerWallet(r *Room, w domain.Winner) string {
	switch w {
	case domain.WinnerWhite:
		return r.white.Wallet
	case domain.WinnerBlack:
		return r.black.Wallet
	}
	return ""
}

func coinFlip() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err == nil && n.Int64() == 1
}
