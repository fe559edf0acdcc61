package websocket

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/queueworks/taskqueue/internal/events"
	"github.com/queueworks/taskqueue/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper origin checking
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub *Hub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeWS handles WebSocket upgrade requests. An optional
// ?events=task.completed,worker.left query narrows the initial
// subscription; without it the client receives the full feed. Either
// way the set can be changed later with subscribe/unsubscribe
// messages.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	client := NewClient(h.hub, conn)

	if raw := r.URL.Query().Get("events"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if et, ok := events.ParseEventType(strings.TrimSpace(name)); ok {
				client.Subscribe(et)
			}
		}
	} else {
		client.SubscribeAll()
	}

	h.hub.Register(client)

	// Start pumps in goroutines
	go client.WritePump()
	go client.ReadPump()

	logger.Info().
		Str("client_id", client.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket client connected")
}
