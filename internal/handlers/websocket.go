package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler relays a scene's events over a websocket. The socket is
// read-only for the client; turns are requested over HTTP.
type WebSocketHandler struct {
	subscriber Subscriber
	logger     *slog.Logger
}

func NewWebSocketHandler(subscriber Subscriber, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{subscriber: subscriber, logger: logger}
}

// Relay upgrades the connection and forwards every event published on the
// scene channel as a text frame holding the event JSON.
// GET /v1/ws/scenes/:sceneID
func (h *WebSocketHandler) Relay(c *gin.Context) {
	sceneID := c.Param("sceneID")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err, "scene_id", sceneID)
		return
	}
	defer conn.Close()
	log := h.logger.With("scene_id", sceneID, "remote_addr", c.ClientIP())
	log.Info("WebSocket connection established")

	pubsub := h.subscriber.Subscribe(c.Request.Context(), sceneID)
	defer pubsub.Close()
	msgChan := pubsub.Channel()

	// The read loop only services pongs and notices the client going away.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Info("WebSocket client disconnected")
			return
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				log.Warn("WebSocket write failed", "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
