package notification

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// client owns one connection. Only writePump writes to it; a websocket.Conn
// allows one concurrent writer.
type client struct {
	conn *websocket.Conn
	send chan any
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan any, sendBuffer), done: make(chan struct{})}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump drains send and pings the peer. Every write carries a deadline,
// so a peer that stops reading costs at most writeWait before it is dropped.
func (c *client) writePump(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case m := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub pushes messages to users connected over websocket. A user has at most
// one live connection; a new one replaces the old. Sends never block: a
// client whose buffer is full is disconnected.
type Hub struct {
	clients map[string]*client
	mutex   sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

func (h *Hub) Register(userID string, conn *websocket.Conn) {
	c := newClient(conn)

	h.mutex.Lock()
	if old, ok := h.clients[userID]; ok {
		old.close()
	}
	h.clients[userID] = c
	h.mutex.Unlock()

	go c.writePump(pingPeriod)
}

// Unregister drops userID's connection if it is still conn.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if c, ok := h.clients[userID]; ok && c.conn == conn {
		c.close()
		delete(h.clients, userID)
	}
}

// SendToUser queues message for userID and reports whether it was queued.
func (h *Hub) SendToUser(userID string, message any) bool {
	h.mutex.RLock()
	c, ok := h.clients[userID]
	h.mutex.RUnlock()
	if !ok {
		return false
	}

	select {
	case <-c.done:
	case c.send <- message:
		return true
	default:
	}
	h.Unregister(userID, c.conn)
	return false
}

// Notify pushes m if the user is online. Offline users get the e-mail copy
// only, so a miss is not an error.
func (h *Hub) Notify(_ context.Context, m Message) error {
	h.SendToUser(m.UserID, m)
	return nil
}

func (h *Hub) online(userID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) OnlineCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for userID, c := range h.clients {
		c.close()
		delete(h.clients, userID)
	}
}
