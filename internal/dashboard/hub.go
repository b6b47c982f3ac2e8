package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/storedash/internal/types"
)

const (
	maxStreamClients = 64
	writeWait        = 5 * time.Second
	broadcastBuffer  = 16
)

// Message types sent on the status stream.
const (
	MessageSnapshot = "snapshot"
	MessageAuthLost = "auth_lost"
)

// Message is one frame of the agent status stream.
type Message struct {
	Type   string      `json:"type"`
	Status *StatusView `json:"status,omitempty"`
}

// Hub fans health snapshots out to websocket clients. One goroutine (Run)
// owns the client set and is the only writer of data frames.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan Message
	done       chan struct{}

	mu     sync.RWMutex
	latest *Message
	count  int
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan Message, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			if len(h.clients) >= maxStreamClients {
				conn.Close()
				slog.Warn("status stream client rejected", "max", maxStreamClients)
				continue
			}
			h.clients[conn] = struct{}{}
			h.setCount(len(h.clients))
			slog.Debug("status stream client registered", "clients", len(h.clients))

			h.mu.RLock()
			latest := h.latest
			h.mu.RUnlock()
			if latest != nil {
				h.send(conn, *latest)
			}

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				h.setCount(len(h.clients))
				slog.Debug("status stream client unregistered", "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for conn := range h.clients {
				h.send(conn, msg)
			}
		}
	}
}

// send writes msg to conn, dropping the client on failure. Only Run calls it.
func (h *Hub) send(conn *websocket.Conn, msg Message) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		slog.Debug("status stream write failed", "error", err)
		delete(h.clients, conn)
		conn.Close()
		h.setCount(len(h.clients))
	}
}

func (h *Hub) shutdown() {
	slog.Debug("closing status stream", "clients", len(h.clients))
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.setCount(0)
}

// Publish queues snap for every connected client and remembers it for
// clients that connect later. It never blocks; when the queue is full the
// frame is dropped and the next snapshot supersedes it.
func (h *Hub) Publish(snap types.Snapshot) {
	view := NewStatusView(snap)
	h.enqueue(Message{Type: MessageSnapshot, Status: &view})
}

// SessionLost tells clients the session was rejected by an agent.
func (h *Hub) SessionLost() {
	h.enqueue(Message{Type: MessageAuthLost})
}

func (h *Hub) enqueue(msg Message) {
	h.mu.Lock()
	h.latest = &msg
	h.mu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		slog.Warn("status stream queue full, dropping frame", "type", msg.Type)
	}
}

// Register adds conn to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(conn *websocket.Conn) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes conn from the hub and closes it.
func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
