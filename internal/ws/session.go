package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/solmate-gg/solmate-server/pkg/gamedto"
)

const writeTimeout = 5 * time.Second

// Session is one upgraded connection. The read loop is the only reader;
// writes come from many goroutines (handlers, clock ticks, lobby
// broadcasts) and are serialized by writeMu because wsjson.Write is not
// concurrency-safe.
type Session struct {
	ID   string
	conn *websocket.Conn

	writeMu sync.Mutex

	// wallet is set once player:register succeeds; only the read loop
	// writes it, pushes never need it.
	wallet string
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		ID:   uuid.NewString(),
		conn: conn,
	}
}

// Send writes one enveloped event with a bounded deadline so a stalled
// client cannot pin a clock-tick goroutine.
func (s *Session) Send(event string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsjson.Write(ctx, s.conn, outEnvelope{Event: event, Data: payload})
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func (s *Session) readEnvelope(ctx context.Context) (gamedto.Envelope, error) {
	var env gamedto.Envelope
	err := wsjson.Read(ctx, s.conn, &env)
	return env, err
}
