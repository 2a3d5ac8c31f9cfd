package api

import (
	"log"
	"net/http"
	"sync"

	"commodity-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub pushes committed change entries to websocket subscribers. It
// implements ingest.Notifier, so the pipeline stays unaware of transport.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

// NotifyChanges fans committed entries out to every subscriber. A slow or
// dead client is dropped rather than blocking the pipeline.
func (h *Hub) NotifyChanges(entries []models.ChangeEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(entries); err != nil {
			log.Printf("ws: dropping client: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ServeWS: GET /ws
// Subscribes the caller to the live change feed.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// read loop only to detect close; the feed is one-way
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.clients, conn)
				h.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}
