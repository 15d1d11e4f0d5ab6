package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/roto-sim/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The API is read-mostly and unauthenticated; origin filtering
		// happens in the CORS middleware for the REST surface.
		return true
	},
}

type WebSocketHandler struct {
	hub    *services.WebSocketHub
	logger *logrus.Logger
}

func NewWebSocketHandler(hub *services.WebSocketHub, logger *logrus.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger,
	}
}

// HandleWebSocket upgrades the connection and registers the client with the
// hub. Clients subscribe to "projection:{id}" topics for lifecycle events.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection")
		return
	}

	client := services.NewClient(h.hub, conn, c.Request.RemoteAddr)
	h.hub.Register(client)

	welcome := map[string]interface{}{
		"type": "welcome",
		"data": map[string]interface{}{
			"message":   "Connected to the projection feed",
			"timestamp": time.Now().UTC(),
		},
	}
	if err := conn.WriteJSON(welcome); err != nil {
		h.logger.WithError(err).Error("Failed to send welcome message")
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
