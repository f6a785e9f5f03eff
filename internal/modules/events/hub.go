package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trustbook/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // configure in prod
}

// connection represents a single subscribed listener.
type connection struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// Hub pushes domain events to connected listeners. A listener only receives
// events whose parties include its user id; admin listeners receive all.
type Hub struct {
	mu          sync.RWMutex
	connections map[*connection]struct{}
	admins      map[*connection]struct{}
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[*connection]struct{}),
		admins:      make(map[*connection]struct{}),
	}
}

func (h *Hub) register(c *connection, admin bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = struct{}{}
	if admin {
		h.admins[c] = struct{}{}
	}
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		delete(h.admins, c)
		close(c.send)
	}
}

// Broadcast fans an event out to every listener entitled to see it.
func (h *Hub) Broadcast(e *domain.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.connections {
		_, admin := h.admins[c]
		if !admin && c.userID != e.ConsumerID && c.userID != e.ProviderID && c.userID != e.ActorID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Listener too slow — skip, the event log remains the source of truth.
		}
	}
}

// ServeWS upgrades the request and pumps events until disconnect.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64, admin bool) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &connection{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 256),
	}
	h.register(c, admin)

	go h.writePump(c)
	h.readPump(c) // blocks until disconnect
	return nil
}

func (h *Hub) readPump(c *connection) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// The stream is one-way; inbound frames only keep the connection alive.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
