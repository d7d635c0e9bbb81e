// Package ws is the realtime surface: one websocket per player, JSON
// envelopes both ways. The hub owns the connection set and implements the
// push interface the room manager notifies through.
package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/solmate-gg/solmate-server/internal/obslog"
)

// Hub tracks live sessions and the subset subscribed to lobby broadcasts.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	lobby    map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		lobby:    make(map[string]struct{}),
	}
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
}

func (h *Hub) remove(connID string) {
	h.mu.Lock()
	delete(h.sessions, connID)
	delete(h.lobby, connID)
	h.mu.Unlock()
}

// ToConn pushes one event to one connection. Unknown or closed handles are
// dropped silently; the caller has no use for the failure.
func (h *Hub) ToConn(connID, event string, payload any) {
	if connID == "" {
		return
	}
	h.mu.RLock()
	s := h.sessions[connID]
	h.mu.RUnlock()
	if s == nil {
		return
	}
	if err := s.Send(event, payload); err != nil {
		obslog.L().Debug("ws_push_drop",
			zap.String("conn_id", connID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// SubscribeLobby opts a connection in to lobby broadcasts.
func (h *Hub) SubscribeLobby(connID string) {
	h.mu.Lock()
	if _, ok := h.sessions[connID]; ok {
		h.lobby[connID] = struct{}{}
	}
	h.mu.Unlock()
}

func (h *Hub) UnsubscribeLobby(connID string) {
	h.mu.Lock()
	delete(h.lobby, connID)
	h.mu.Unlock()
}

// BroadcastLobby pushes an event to every lobby subscriber.
func (h *Hub) BroadcastLobby(event string, payload any) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.lobby))
	for connID := range h.lobby {
		if s := h.sessions[connID]; s != nil {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range targets {
		if err := s.Send(event, payload); err != nil {
			obslog.L().Debug("ws_push_drop",
				zap.String("conn_id", s.ID),
				zap.String("event", event),
				zap.Error(err),
			)
		}
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
