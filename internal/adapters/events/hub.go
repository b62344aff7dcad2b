// Package events pushes session lifecycle notifications (vote progress,
// activation, cancellation) to room subscribers over websockets. It is
// a status surface only: envelope consumption stays with the relay's
// poll contract.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/core"
	"github.com/kl0udx/THISTHAT-HACKATHONv1/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans session events out per room. Implements core.Notifier.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[*wsConn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomID]map[*wsConn]struct{})}
}

// Publish sends the event to every subscriber of the room. A subscriber
// that cannot keep up is dropped rather than slowing the rest.
func (h *Hub) Publish(roomID domain.RoomID, ev core.SessionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Msg("event marshal")
		return
	}

	h.mu.RLock()
	subscribers := make([]*wsConn, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		if err := c.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "events").Str("room", string(roomID)).Msg("dropping slow subscriber")
			h.remove(roomID, c)
			c.Close()
		}
	}
}

// HandleSubscribe upgrades the request and registers the socket for the
// room until it closes.
func (h *Hub) HandleSubscribe(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("roomId"))
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "events").Msg("ws upgrade")
		return
	}

	conn := newWSConn(ws)
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*wsConn]struct{})
	}
	h.rooms[roomID][conn] = struct{}{}
	h.mu.Unlock()
	log.Info().Str("module", "events").Str("room", string(roomID)).Msg("subscriber joined")

	go conn.writePump(ctx)
	go conn.readPump(func() {
		h.remove(roomID, conn)
		log.Info().Str("module", "events").Str("room", string(roomID)).Msg("subscriber left")
	})
}

func (h *Hub) remove(roomID domain.RoomID, conn *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[roomID]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}
