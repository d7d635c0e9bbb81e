// Package httpapi is the small REST surface next to the websocket: health,
// the open-lobby listing, and out-of-band hosted-match registration for
// matches funded on-chain before the host's socket is up.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/domain"
	"github.com/solmate-gg/solmate-server/internal/hosted"
	"github.com/solmate-gg/solmate-server/internal/matchmaking"
	"github.com/solmate-gg/solmate-server/internal/obslog"
	"github.com/solmate-gg/solmate-server/internal/player"
	"github.com/solmate-gg/solmate-server/internal/room"
	"github.com/solmate-gg/solmate-server/internal/ws"
	"github.com/solmate-gg/solmate-server/pkg/gamedto"
)

type Server struct {
	dir      *player.Directory
	queue    *matchmaking.Queue
	registry *hosted.Registry
	rooms    *room.Manager
	hub      *ws.Hub

	corsOrigin          string
	joinDeadlineDefault time.Duration
	startedAt           time.Time
}

func NewServer(dir *player.Directory, queue *matchmaking.Queue, registry *hosted.Registry, rooms *room.Manager, hub *ws.Hub, corsOrigin string, joinDeadlineDefault time.Duration) *Server {
	if joinDeadlineDefault <= 0 {
		joinDeadlineDefault = 10 * time.Minute
	}
	return &Server{
		dir:                 dir,
		queue:               queue,
		registry:            registry,
		rooms:               rooms,
		hub:                 hub,
		corsOrigin:          corsOrigin,
		joinDeadlineDefault: joinDeadlineDefault,
		startedAt:           time.Now(),
	}
}

// Routes mounts the REST handlers onto mux and returns the wrapped handler.
func (s *Server) Routes(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/lobby", s.handleLobby)
	mux.HandleFunc("/matches", s.handleRegisterMatch)
	return s.cors(mux)
}

func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.corsOrigin
	if strings.TrimSpace(origin) == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	total, active := s.rooms.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptimeSec":   int(time.Since(s.startedAt).Seconds()),
		"connections": s.hub.Count(),
		"players":     s.dir.Count(),
		"rooms":       total,
		"activeRooms": active,
		"queueDepths": s.queue.Depths(),
		"openMatches": len(s.registry.Waiting()),
	})
}

func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	waiting := s.registry.Waiting()
	matches := make([]gamedto.LobbyMatch, 0, len(waiting))
	for _, m := range waiting {
		matches = append(matches, gamedto.LobbyMatch{
			MatchCode:      m.Code,
			OnChainAddress: m.OnChainAddress,
			HostWallet:     m.HostWallet,
			StakeTier:      m.StakeTier,
			JoinDeadline:   m.JoinDeadline.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, gamedto.LobbyMatchesEvent{Matches: matches})
}

// handleRegisterMatch accepts a hosted match whose escrow already exists
// on-chain. The code is always server-issued; the host's socket binds to it
// later via player:register.
func (s *Server) handleRegisterMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req gamedto.RegisterHostedMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.HostWallet) == "" {
		writeError(w, http.StatusBadRequest, "missing_host", "hostWallet is required")
		return
	}
	if !domain.ValidStakeTier(req.StakeTier) {
		writeError(w, http.StatusBadRequest, "bad_stake_tier", "unknown stake tier")
		return
	}

	deadline := time.Now().Add(s.joinDeadlineDefault)
	if req.JoinDeadline > 0 {
		deadline = time.UnixMilli(req.JoinDeadline)
	}
	rank := domain.RankForXP(0)
	if p := s.dir.ByID(req.HostWallet); p != nil {
		rank = p.Rank
	}

	m, err := s.registry.Host(req.HostWallet, "", rank, req.StakeTier, req.OnChainAddress, deadline)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "host_failed", err.Error())
		return
	}
	s.hub.BroadcastLobby(gamedto.EvLobbyNewMatch, gamedto.LobbyMatch{
		MatchCode:      m.Code,
		OnChainAddress: m.OnChainAddress,
		HostWallet:     m.HostWallet,
		StakeTier:      m.StakeTier,
		JoinDeadline:   m.JoinDeadline.UnixMilli(),
	})

	obslog.L().Info("http_match_registered",
		zap.String("match_code", m.Code),
		zap.String("host", m.HostWallet),
	)
	writeJSON(w, http.StatusCreated, gamedto.RegisteredMatchEvent{
		HostedEvent: gamedto.HostedEvent{
			MatchCode:      m.Code,
			OnChainAddress: m.OnChainAddress,
			JoinDeadline:   m.JoinDeadline.UnixMilli(),
		},
		RequestedCode: strings.TrimSpace(req.MatchCode),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, gamedto.DomainError{Code: code, Message: message})
}
