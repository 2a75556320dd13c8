package events

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/macworp/macworp/logger"
	"github.com/rs/xid"
)

// subscriberBuffer bounds the per-subscriber send queue. A subscriber
// that falls this far behind is dropped rather than stalling the hub.
const subscriberBuffer = 64

// Hub fans project events out to websocket subscribers. Each project ID
// is a room; events reach every current subscriber of that room in the
// order they were written.
type Hub struct {
	mtx   sync.RWMutex
	rooms map[int64]map[string]*subscriber
	log   logger.Logger
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewHub returns an empty Hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		rooms: map[int64]map[string]*subscriber{},
		log:   log,
	}
}

// Subscribe registers a websocket connection for a project's events and
// starts its writer goroutine. The hub owns the connection from here on.
func (h *Hub) Subscribe(projectID int64, conn *websocket.Conn) {
	sub := &subscriber{
		id:   xid.New().String(),
		conn: conn,
		send: make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}

	h.mtx.Lock()
	room, ok := h.rooms[projectID]
	if !ok {
		room = map[string]*subscriber{}
		h.rooms[projectID] = room
	}
	room[sub.id] = sub
	h.mtx.Unlock()

	go h.writePump(projectID, sub)
	go h.readPump(projectID, sub)
}

// Write implements Writer. It never returns an error; slow subscribers
// are dropped instead.
func (h *Hub) Write(ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mtx.RLock()
	subs := make([]*subscriber, 0, len(h.rooms[ev.ProjectID]))
	for _, sub := range h.rooms[ev.ProjectID] {
		subs = append(subs, sub)
	}
	h.mtx.RUnlock()

	for _, sub := range subs {
		select {
		case <-sub.done:
		case sub.send <- payload:
		default:
			h.log.Warn("Dropping slow event subscriber", "project", ev.ProjectID, "subscriber", sub.id)
			h.unsubscribe(ev.ProjectID, sub)
		}
	}
	return nil
}

// SubscriberCount returns the number of subscribers of a project.
func (h *Hub) SubscriberCount(projectID int64) int {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return len(h.rooms[projectID])
}

func (h *Hub) unsubscribe(projectID int64, sub *subscriber) {
	h.mtx.Lock()
	if room, ok := h.rooms[projectID]; ok {
		delete(room, sub.id)
		if len(room) == 0 {
			delete(h.rooms, projectID)
		}
	}
	h.mtx.Unlock()

	// The send channel is never closed, concurrent Write calls may still
	// hold a reference to this subscriber. The done channel tells the
	// write pump and subsequent writers that the subscriber is gone.
	sub.once.Do(func() {
		close(sub.done)
	})
}

// writePump serializes outgoing messages onto the connection, preserving
// the order events were written to the hub.
func (h *Hub) writePump(projectID int64, sub *subscriber) {
	defer sub.conn.Close()
	for {
		select {
		case <-sub.done:
			return
		case payload := <-sub.send:
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unsubscribe(projectID, sub)
				return
			}
		}
	}
}

// readPump discards incoming messages and detects closed connections.
func (h *Hub) readPump(projectID int64, sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			h.unsubscribe(projectID, sub)
			return
		}
	}
}
