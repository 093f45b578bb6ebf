// Package websocket pushes transcript snapshots to connected renderers
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"connect-chat/internal/core/domain"
	"connect-chat/internal/core/ports"
)

var _ ports.SnapshotPublisher = (*SnapshotHub)(nil)

// SnapshotHub fans out snapshots to the subscribers of each session.
// Publish never blocks the caller: a full queue drops the update, and the
// next snapshot replaces it anyway.
type SnapshotHub struct {
	sessions map[string]map[*Client]struct{}

	// last payload per live session, replayed to new subscribers
	latest map[string][]byte

	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	// Empty means no secret_key check
	secretKey string

	upgrader websocket.Upgrader
}

// Client is one WebSocket subscriber of a session
type Client struct {
	hub       *SnapshotHub
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

type envelope struct {
	sessionID string
	payload   []byte
	ended     bool
}

// message is the frame written to subscribers
type message struct {
	Type string          `json:"type"`
	Data domain.Snapshot `json:"data"`
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 16

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// NewSnapshotHub creates a hub; call Run before serving
func NewSnapshotHub(secretKey string) *SnapshotHub {
	return &SnapshotHub{
		sessions:   make(map[string]map[*Client]struct{}),
		latest:     make(map[string][]byte),
		broadcast:  make(chan envelope, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		secretKey:  secretKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run is the hub event loop; it returns when ctx is cancelled
func (h *SnapshotHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			subs, ok := h.sessions[client.sessionID]
			if !ok {
				subs = make(map[*Client]struct{})
				h.sessions[client.sessionID] = subs
			}
			subs[client] = struct{}{}
			count := len(subs)
			if last := h.latest[client.sessionID]; last != nil {
				client.send <- last
			}
			h.mu.Unlock()

			slog.Info("🟢 Snapshot subscriber connected",
				"session_id", client.sessionID,
				"subscribers", count,
			)

		case client := <-h.unregister:
			h.remove(client)

		case env := <-h.broadcast:
			h.mu.Lock()
			if env.ended {
				delete(h.latest, env.sessionID)
			} else {
				h.latest[env.sessionID] = env.payload
			}
			if env.payload == nil {
				h.mu.Unlock()
				continue
			}
			for client := range h.sessions[env.sessionID] {
				select {
				case client.send <- env.payload:
				default:
					// slow subscriber, it catches up on the next snapshot
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *SnapshotHub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.sessions[client.sessionID]
	if _, ok := subs[client]; !ok {
		return
	}
	delete(subs, client)
	close(client.send)
	if len(subs) == 0 {
		delete(h.sessions, client.sessionID)
	}
	slog.Info("🔴 Snapshot subscriber disconnected",
		"session_id", client.sessionID,
		"subscribers", len(subs),
	)
}

func (h *SnapshotHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, subs := range h.sessions {
		for client := range subs {
			close(client.send)
		}
		delete(h.sessions, id)
	}
}

// Publish queues a snapshot for the session's subscribers
func (h *SnapshotHub) Publish(snapshot domain.Snapshot) {
	payload, err := json.Marshal(message{Type: "snapshot", Data: snapshot})
	if err != nil {
		slog.Error("Failed to encode snapshot", "session_id", snapshot.SessionID, "error", err)
		return
	}

	select {
	case h.broadcast <- envelope{sessionID: snapshot.SessionID, payload: payload, ended: snapshot.Ended}:
	default:
		slog.Warn("Snapshot queue full, dropping update",
			"session_id", snapshot.SessionID,
			"version", snapshot.Version,
		)
	}
}

// Forget drops the replay payload of an evicted session. It is queued behind
// pending snapshots so an older update cannot restore it.
func (h *SnapshotHub) Forget(sessionID string) {
	select {
	case h.broadcast <- envelope{sessionID: sessionID, ended: true}:
	case <-h.done:
	}
}

// ServeWS upgrades a subscriber.
// Route: /ws/transcript?session_id=ID&secret_key=MESH_SECRET
func (h *SnapshotHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if h.secretKey != "" && query.Get("secret_key") != h.secretKey {
		http.Error(w, "Unauthorized: Invalid or missing secret_key", http.StatusUnauthorized)
		slog.Warn("⚠️ Unauthorized WebSocket attempt", "remote_addr", r.RemoteAddr)
		return
	}

	sessionID := query.Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("❌ WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:       h,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, clientBufferSize),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// SubscriberCount returns the number of subscribers of one session
func (h *SnapshotHub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// readPump drains the connection; subscribers only send pongs
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("WebSocket read error", "session_id", c.sessionID, "error", err)
			}
			return
		}
	}
}

// writePump writes one snapshot per frame
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
