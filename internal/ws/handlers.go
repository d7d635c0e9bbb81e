package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/hosted"
	"github.com/solmate-gg/solmate-server/internal/matchmaking"
	"github.com/solmate-gg/solmate-server/internal/obslog"
	"github.com/solmate-gg/solmate-server/internal/room"
	"github.com/solmate-gg/solmate-server/internal/rules"
	"github.com/solmate-gg/solmate-server/pkg/gamedto"
)

func decode[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

func (s *Server) registered(sess *Session) (*domain.Player, bool) {
	p := s.dir.ByConn(sess.ID)
	if p == nil {
		s.sendError(sess, s.cat.Text("player.not_registered"))
		return nil, false
	}
	return p, true
}

func (s *Server) handleRegister(sess *Session, raw json.RawMessage) {
	req, ok := decode[gamedto.RegisterRequest](raw)
	if !ok || strings.TrimSpace(req.WalletAddress) == "" {
		s.sendError(sess, s.cat.Text("player.invalid_wallet"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	p, err := s.dir.Register(ctx, req.WalletAddress, sess.ID)
	if err != nil {
		s.sendError(sess, s.cat.Text("player.invalid_wallet"))
		return
	}
	sess.wallet = p.WalletAddress

	// A reconnecting host gets their grace timer cancelled here; room
	// reattachment happens on game:joinRoom.
	s.registry.RefreshHostConn(p.WalletAddress, sess.ID)

	_ = sess.Send(gamedto.EvPlayerRegistered, gamedto.RegisteredEvent{
		PlayerID:    p.WalletAddress,
		XP:          p.XP,
		Rank:        string(p.Rank),
		GamesPlayed: p.GamesPlayed,
		GamesWon:    p.GamesWon,
	})
}

func (s *Server) handleQueueJoin(sess *Session, raw json.RawMessage) {
	p, ok := s.registered(sess)
	if !ok {
		return
	}
	req, ok := decode[gamedto.MatchmakingJoinRequest](raw)
	if !ok {
		s.sendError(sess, s.cat.Text("server.bad_payload"))
		return
	}
	if p.CurrentRoomID != "" {
		s.sendError(sess, s.cat.Text("matchmaking.in_game"))
		return
	}

	skill := domain.SkillTierFor(p)
	pos, err := s.queue.Enqueue(req.StakeTier, matchmaking.Entry{
		Wallet:    p.WalletAddress,
		ConnID:    sess.ID,
		Rank:      p.Rank,
		SkillTier: skill,
	})
	switch {
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		s.sendError(sess, s.cat.Text("matchmaking.already_queued"))
		return
	case errors.Is(err, matchmaking.ErrBadStakeTier):
		s.sendError(sess, s.cat.Text("matchmaking.bad_stake_tier"))
		return
	case err != nil:
		s.sendError(sess, s.cat.Text("server.internal"))
		return
	}

	_ = sess.Send(gamedto.EvMatchmakingQueued, gamedto.QueuedEvent{
		StakeTier:     req.StakeTier,
		SkillTier:     string(skill),
		QueuePosition: pos,
	})

	s.settlePairs(s.queue.MatchTier(req.StakeTier, time.Now()))
}

// settlePairs turns queue pairs into waiting rooms and tells both players
// where to go. Shared by the enqueue path and the periodic fallback sweep.
func (s *Server) settlePairs(pairs []matchmaking.Pair) {
	for _, pair := range pairs {
		snap := s.rooms.CreateWaiting(
			room.Participant{Wallet: pair.A.Wallet, Rank: pair.A.Rank},
			room.Participant{Wallet: pair.B.Wallet, Rank: pair.B.Rank},
			pair.StakeTier,
		)
		matched := gamedto.MatchedEvent{
			RoomID:    snap.ID,
			StakeTier: pair.StakeTier,
			Player1:   pair.A.Wallet,
			Player2:   pair.B.Wallet,
		}
		s.hub.ToConn(pair.A.ConnID, gamedto.EvMatchmakingMatched, matched)
		s.hub.ToConn(pair.B.ConnID, gamedto.EvMatchmakingMatched, matched)
	}
}

// SweepQueue runs the pairing scan across all tiers; bound to the periodic
// scheduler so fallback pairs form without a new enqueue triggering them.
func (s *Server) SweepQueue() {
	s.settlePairs(s.queue.MatchAll(time.Now()))
}

func (s *Server) handleQueueLeave(sess *Session) {
	p, ok := s.registered(sess)
	if !ok {
		return
	}
	if !s.queue.Leave(p.WalletAddress) {
		s.sendError(sess, s.cat.Text("matchmaking.not_queued"))
		return
	}
	_ = sess.Send(gamedto.EvMatchmakingLeft, struct{}{})
}

func (s *Server) handleQueueStatus(sess *Session) {
	_ = sess.Send(gamedto.EvMatchmakingStat, gamedto.QueueStatusEvent{Depths: s.queue.Depths()})
}

func (s *Server) handleHost(sess *Session, raw json.RawMessage) {
	p, ok := s.registered(sess)
	if !ok {
		return
	}
	req, ok := decode[gamedto.HostMatchRequest](raw)
	if !ok {
		s.sendError(sess, s.cat.Text("server.bad_payload"))
		return
	}
	deadline := time.Now().Add(s.joinDeadlineDefault)
	if req.JoinDeadlineMinutes > 0 {
		deadline = time.Now().Add(time.Duration(req.JoinDeadlineMinutes) * time.Minute)
	}

	m, err := s.registry.Host(p.WalletAddress, sess.ID, p.Rank, req.StakeTier, req.OnChainAddress, deadline)
	if errors.Is(err, hosted.ErrBadStake) {
		s.sendError(sess, s.cat.Text("matchmaking.bad_stake_tier"))
		return
	}
	if err != nil {
		s.sendError(sess, s.cat.Text("server.internal"))
		return
	}

	_ = sess.Send(gamedto.EvMatchHosted, gamedto.HostedEvent{
		MatchCode:      m.Code,
		OnChainAddress: m.OnChainAddress,
		JoinDeadline:   m.JoinDeadline.UnixMilli(),
	})
	s.hub.BroadcastLobby(gamedto.EvLobbyNewMatch, lobbyMatch(m))
}

func (s *Server) handleJoin(sess *Session, raw json.RawMessage) {
	p, ok := s.registered(sess)
	if !ok {
		return
	}
	req, ok := decode[gamedto.JoinMatchRequest](raw)
	if !ok {
		s.sendError(sess, s.cat.Text("server.bad_payload"))
		return
	}

	m, err := s.registry.Join(req.MatchCode, p.WalletAddress)
	if err != nil {
		_ = sess.Send(gamedto.EvMatchJoinError, gamedto.JoinErrorEvent{Reason: s.joinErrorReason(err)})
		return
	}

	snap, hostColor := s.rooms.CreateActive(
		room.Participant{Wallet: m.HostWallet, ConnID: m.HostConnID, Rank: m.HostRank},
		room.Participant{Wallet: p.WalletAddress, ConnID: sess.ID, Rank: p.Rank},
		m.StakeTier, m.Code, m.OnChainAddress,
	)

	_ = sess.Send(gamedto.EvMatchJoined, gamedto.MatchJoinedEvent{
		RoomID:    snap.ID,
		YourColor: string(hostColor.Other()),
		Opponent: gamedto.OpponentInfo{
			WalletAddress: m.HostWallet,
			Rank:          string(m.HostRank),
		},
		StakeTier: m.StakeTier,
	})
	s.hub.ToConn(m.HostConnID, gamedto.EvMatchPlayerJoined, gamedto.PlayerJoinedEvent{
		MatchCode:   m.Code,
		RoomID:      snap.ID,
		GuestWallet: p.WalletAddress,
		YourColor:   string(hostColor),
	})
}

func (s *Server) joinErrorReason(err error) string {
	switch {
	case errors.Is(err, hosted.ErrNotFound):
		return s.cat.Text("match.not_found")
	case errors.Is(err, hosted.ErrExpired):
		return s.cat.Text("match.expired")
	case errors.Is(err, hosted.ErrSelfJoin):
		return s.cat.Text("match.self_join")
	case errors.Is(err, hosted.ErrNotJoinable):
		return s.cat.Text("match.not_joinable")
	}
	return s.cat.Text("server.internal")
}

func (s *Server) handleCancel(sess *Session, raw json.RawMessage) {
	p, ok := s.registered(sess)
	if !ok {
		return
	}
	req, ok := decode[gamedto.CancelMatchRequest](raw)
	if !ok {
		s.sendError(sess, s.cat.Text("server.bad_payload"))
		return
	}
	switch err := s.registry.Cancel(req.MatchCode, p.WalletAddress); {
	case errors.Is(err, hosted.ErrNotFound):
		s.sendError(sess, s.cat.Text("match.not_found"))
	case errors.Is(err, hosted.ErrNotJoinable):
		s.sendError(sess, s.cat.Text("match.not_joinable"))
	case errors.Is(err, hosted.ErrNotHost):
		s.sendError(sess, s.cat.Text("match.not_host"))
	case err != nil:
		s.sendError(sess, s.cat.Text("server.internal"))
	}
}

func (s *Server) handleSearch(sess *Session, raw json.RawMessage) {
	req, ok := decode[gamedto.SearchMatchRequest](raw)
	if !ok {
		s.sendError(sess, s.cat.Text("server.bad_payload"))
		return
	}
	m, err := s.registry.Search(req.MatchCode)
	if err != nil {
		_ = sess.Send(gamedto.EvMatchJoinError, gamedto.JoinErrorEvent{Reason: s.joinErrorReason(err)})
		return
	}
	_ = sess.Send(gamedto.EvMatchFound, lobbyMatch(m))
}

func (s *Server) handleJoinRoom(sess *Session, raw json.RawMessage) {
	p, ok := s.registered(sess)
	if !ok {
		return
	}
	req, ok := decode[gamedto.JoinRoomRequest](raw)
	if !ok {
		s.sendError(sess, s.cat.Text("server.bad_payload"))
		return
	}

	snap, err := s.rooms.AttachConn(req.RoomID, p.WalletAddress, sess.ID)
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		s.sendError(sess, s.cat.Text("game.room_not_found"))
		return
	case errors.Is(err, room.ErrNotParticipant):
		s.sendError(sess, s.cat.Text("game.not_participant"))
		return
	case err != nil:
		s.sendError(sess, s.cat.Text("server.internal"))
		return
	}

	opp := snap.Opponent(p.WalletAddress)
	_ = sess.Send(gamedto.EvGameJoined, gamedto.GameJoinedEvent{
		RoomID:    snap.ID,
		YourColor: string(snap.ColorOf(p.WalletAddress)),
		Opponent: gamedto.OpponentInfo{
			WalletAddress: opp.Wallet,
			Rank:          string(opp.Rank),
		},
		StakeTier:        snap.StakeTier,
		WhiteRemainingMs: snap.WhiteRemainingMs,
		BlackRemainingMs: snap.BlackRemainingMs,
		Turn:             string(snap.Turn),
		Status:           string(snap.Status),
	})
}

func (s *Server) handleMakeMove(sess *Session, raw json.RawMessage) {
	p, ok := s.registered(sess)
	if !ok {
		return
	}
	req, ok := decode[gamedto.MakeMoveRequest](raw)
	if !ok {
		s.sendError(sess, s.cat.Text("server.bad_payload"))
		return
	}

	err := s.rooms.SubmitMove(req.RoomID, p.WalletAddress, domain.Move{
		From:      req.Move.From,
		To:        req.Move.To,
		Promotion: req.Move.Promotion,
	})
	switch {
	case err == nil:
		return
	case errors.Is(err, room.ErrTimeExpired):
		// The flag fell while the move was in flight; game:end already went
		// out, nothing for the mover to fix.
		return
	case errors.Is(err, room.ErrRoomNotFound):
		s.sendError(sess, s.cat.Text("game.room_not_found"))
	case errors.Is(err, room.ErrRoomNotActive):
		s.sendError(sess, s.cat.Text("game.room_not_active"))
	case errors.Is(err, room.ErrNotParticipant):
		s.sendError(sess, s.cat.Text("game.not_participant"))
	case errors.Is(err, room.ErrNotYourTurn):
		s.sendError(sess, s.cat.Text("game.not_your_turn"))
	case errors.Is(err, rules.ErrBadSquare):
		s.sendError(sess, s.cat.Text("game.bad_square"))
	case errors.Is(err, rules.ErrIllegalMove):
		s.sendError(sess, s.cat.Text("game.illegal_move"))
	default:
		obslog.L().Error("ws_move_error", zap.String("conn_id", sess.ID), zap.Error(err))
		s.sendError(sess, s.cat.Text("server.internal"))
	}
}

func (s *Server) handleResign(sess *Session, raw json.RawMessage) {
	p, ok := s.registered(sess)
	if !ok {
		return
	}
	req, ok := decode[gamedto.ResignRequest](raw)
	if !ok {
		s.sendError(sess, s.cat.Text("server.bad_payload"))
		return
	}
	switch err := s.rooms.Resign(req.RoomID, p.WalletAddress); {
	case errors.Is(err, room.ErrRoomNotFound):
		s.sendError(sess, s.cat.Text("game.room_not_found"))
	case errors.Is(err, room.ErrRoomNotActive):
		s.sendError(sess, s.cat.Text("game.room_not_active"))
	case errors.Is(err, room.ErrNotParticipant):
		s.sendError(sess, s.cat.Text("game.not_participant"))
	}
}

func (s *Server) handleLobbySubscribe(sess *Session) {
	s.hub.SubscribeLobby(sess.ID)
	waiting := s.registry.Waiting()
	matches := make([]gamedto.LobbyMatch, 0, len(waiting))
	for _, m := range waiting {
		matches = append(matches, lobbyMatch(m))
	}
	_ = sess.Send(gamedto.EvLobbyMatches, gamedto.LobbyMatchesEvent{Matches: matches})
}

func lobbyMatch(m hosted.Match) gamedto.LobbyMatch {
	return gamedto.LobbyMatch{
		MatchCode:      m.Code,
		OnChainAddress: m.OnChainAddress,
		HostWallet:     m.HostWallet,
		StakeTier:      m.StakeTier,
		JoinDeadline:   m.JoinDeadline.UnixMilli(),
	}
}
