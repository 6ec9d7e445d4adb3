package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joen0001/virtualtouch/internal/track"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// FingertipHandler broadcasts per-frame fingertips via WebSocket. The
// pipeline pushes frames with Broadcast; clients receive JSON messages with
// the fingertips and a timestamp.
type FingertipHandler struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewFingertipHandler creates a FingertipHandler with no clients.
func NewFingertipHandler() *FingertipHandler {
	return &FingertipHandler{
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *FingertipHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep the connection alive by reading messages.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast sends the frame's fingertips to all connected clients. It is a
// no-op without clients, so the pipeline can call it unconditionally.
func (h *FingertipHandler) Broadcast(fingertips []track.Fingertip) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	msg, _ := json.Marshal(map[string]any{
		"fingertips": fingertips,
		"timestamp":  time.Now().UnixMilli(),
	})

	for conn := range h.clients {
		conn.WriteMessage(websocket.TextMessage, msg)
	}
}
