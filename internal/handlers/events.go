package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/fabcam/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// EventHub fans capture notifications out to websocket subscribers, so a
// scoring process can react to new frames instead of polling score_latest.
type EventHub struct {
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func NewEventHub() *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is handled by middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[string]*subscriber),
	}
}

// Handle upgrades GET /signal/capture/events to a websocket subscription.
func (h *EventHub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "handlers.events").Msg("upgrade failed")
		return
	}

	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.subs[sub.id] = sub
	h.mu.Unlock()
	log.Info().Str("module", "handlers.events").Str("subscriber", sub.id).Msg("subscribed")

	go h.writePump(sub)
	go h.readPump(sub)
}

// Publish queues ev for every subscriber. Slow subscribers miss events.
func (h *EventHub) Publish(ev models.FrameEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "handlers.events").Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.subs {
		select {
		case sub.send <- data:
		default:
			log.Warn().Str("module", "handlers.events").Str("subscriber", id).Msg("buffer full, dropping event")
		}
	}
}

// Count returns the number of live subscribers.
func (h *EventHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.send)
	}
}

func (h *EventHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.send)
		log.Info().Str("module", "handlers.events").Str("subscriber", sub.id).Msg("unsubscribed")
	}
}

// readPump only exists to notice disconnects and keep the read deadline
// moving with pongs; subscribers have nothing to say.
func (h *EventHub) readPump(sub *subscriber) {
	defer func() {
		h.remove(sub)
		sub.conn.Close()
	}()

	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "handlers.events").Str("subscriber", sub.id).Msg("websocket error")
			}
			return
		}
	}
}

func (h *EventHub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().Err(err).Str("module", "handlers.events").Str("subscriber", sub.id).Msg("write failed")
				return
			}

		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
