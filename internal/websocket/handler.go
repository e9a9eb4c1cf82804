package websocket

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are enforced by the CORS layer in front of the API.
		return true
	},
}

// Handler upgrades HTTP requests into subscriber sessions.
type Handler struct {
	hub *Hub
}

// NewHandler creates a websocket upgrade handler for the hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP upgrades the connection and registers the session. The optional
// client_id query parameter names the session; otherwise the hub assigns one.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Handler] Failed to upgrade connection: %v", err)
		return
	}

	client := NewClient(h.hub, conn, r.URL.Query().Get("client_id"))
	h.hub.Register(client)
	client.Run()
}
