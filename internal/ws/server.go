package ws

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/solmate-gg/solmate-server/internal/hosted"
	"github.com/solmate-gg/solmate-server/internal/matchmaking"
	"github.com/solmate-gg/solmate-server/internal/msgcat"
	"github.com/solmate-gg/solmate-server/internal/obslog"
	"github.com/solmate-gg/solmate-server/internal/player"
	"github.com/solmate-gg/solmate-server/internal/room"
	"github.com/solmate-gg/solmate-server/pkg/gamedto"
)

// Server upgrades /ws requests and drives the per-connection read loop.
type Server struct {
	hub      *Hub
	dir      *player.Directory
	queue    *matchmaking.Queue
	registry *hosted.Registry
	rooms    *room.Manager
	cat      *msgcat.Catalog

	originPatterns      []string
	joinDeadlineDefault time.Duration
}

type Config struct {
	OriginPatterns      []string
	JoinDeadlineDefault time.Duration
}

func NewServer(hub *Hub, dir *player.Directory, queue *matchmaking.Queue, registry *hosted.Registry, rooms *room.Manager, cat *msgcat.Catalog, cfg Config) *Server {
	if cfg.JoinDeadlineDefault <= 0 {
		cfg.JoinDeadlineDefault = 10 * time.Minute
	}
	srv := &Server{
		hub:                 hub,
		dir:                 dir,
		queue:               queue,
		registry:            registry,
		rooms:               rooms,
		cat:                 cat,
		originPatterns:      cfg.OriginPatterns,
		joinDeadlineDefault: cfg.JoinDeadlineDefault,
	}
	// Every path that drops a match from the open lobby funnels through
	// this hook, so subscribers see exactly one removal per code.
	registry.OnRemoved(func(m hosted.Match) {
		hub.BroadcastLobby(gamedto.EvLobbyMatchRemoved, gamedto.LobbyMatchRemovedEvent{MatchCode: m.Code})
	})
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.originPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	sess := newSession(conn)
	s.hub.add(sess)
	obslog.L().Info("ws_connect", zap.String("conn_id", sess.ID))

	defer s.teardown(sess)
	s.readLoop(r.Context(), sess)
	conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Server) readLoop(ctx context.Context, sess *Session) {
	for {
		env, err := sess.readEnvelope(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				obslog.L().Info("ws_close", zap.String("conn_id", sess.ID))
			} else {
				obslog.L().Info("ws_read_end", zap.String("conn_id", sess.ID), zap.Error(err))
			}
			return
		}
		s.dispatch(sess, env)
	}
}

// dispatch routes one envelope. A handler panic closes nothing; the error
// is reported to the client and the loop keeps reading.
func (s *Server) dispatch(sess *Session, env gamedto.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			obslog.L().Error("ws_handler_panic",
				zap.String("conn_id", sess.ID),
				zap.String("event", env.Event),
				zap.Any("panic", rec),
			)
			s.sendError(sess, s.cat.Text("server.internal"))
		}
	}()

	switch env.Event {
	case gamedto.EvPlayerRegister:
		s.handleRegister(sess, env.Data)
	case gamedto.EvMatchmakingJoin:
		s.handleQueueJoin(sess, env.Data)
	case gamedto.EvMatchmakingLeave:
		s.handleQueueLeave(sess)
	case gamedto.EvMatchmakingStatus:
		s.handleQueueStatus(sess)
	case gamedto.EvMatchHost:
		s.handleHost(sess, env.Data)
	case gamedto.EvMatchJoin:
		s.handleJoin(sess, env.Data)
	case gamedto.EvMatchCancel:
		s.handleCancel(sess, env.Data)
	case gamedto.EvMatchSearch:
		s.handleSearch(sess, env.Data)
	case gamedto.EvGameJoinRoom:
		s.handleJoinRoom(sess, env.Data)
	case gamedto.EvGameMakeMove:
		s.handleMakeMove(sess, env.Data)
	case gamedto.EvGameResign:
		s.handleResign(sess, env.Data)
	case gamedto.EvLobbySubscribe:
		s.handleLobbySubscribe(sess)
	case gamedto.EvLobbyUnsubscribe:
		s.hub.UnsubscribeLobby(sess.ID)
	default:
		msg, err := s.cat.Render("server.unknown_event", map[string]string{"Event": env.Event})
		if err != nil {
			msg = "unknown event"
		}
		s.sendError(sess, msg)
	}
}

// teardown runs the full disconnect chain: queue removal, in-game grace,
// hosted-match grace, then directory eviction.
func (s *Server) teardown(sess *Session) {
	s.hub.remove(sess.ID)

	if wallet, ok := s.queue.LeaveByConn(sess.ID); ok {
		obslog.L().Info("ws_disconnect_dequeue", zap.String("wallet", wallet))
	}
	if sess.wallet != "" {
		s.rooms.HandleDisconnect(sess.wallet, sess.ID)
		s.registry.HandleHostDisconnect(sess.wallet, sess.ID)
	}
	s.dir.RemoveByConn(sess.ID)
	obslog.L().Info("ws_disconnect", zap.String("conn_id", sess.ID), zap.String("wallet", sess.wallet))
}

func (s *Server) sendError(sess *Session, message string) {
	_ = sess.Send(gamedto.EvError, gamedto.ErrorEvent{Message: message})
}
