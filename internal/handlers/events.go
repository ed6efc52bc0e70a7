package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/screenplay-engine/internal/services/events"
)

// Subscriber opens a subscription to a scene's event channel.
type Subscriber interface {
	Subscribe(ctx context.Context, sceneID string) *redis.PubSub
}

const keepaliveInterval = 30 * time.Second

// EventsHandler handles Server-Sent Events (SSE) for live scene updates
type EventsHandler struct {
	subscriber Subscriber
	logger     *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(subscriber Subscriber, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		subscriber: subscriber,
		logger:     logger,
	}
}

// Stream relays the scene's events until the client disconnects.
// GET /v1/events/scenes/:sceneID
func (h *EventsHandler) Stream(c *gin.Context) {
	sceneID := c.Param("sceneID")
	ctx := c.Request.Context()

	h.logger.Info("SSE connection established",
		"scene_id", sceneID,
		"remote_addr", c.ClientIP())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	pubsub := h.subscriber.Subscribe(ctx, sceneID)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()
	msgChan := pubsub.Channel()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	c.SSEvent("connected", gin.H{
		"scene_id": sceneID,
		"message":  "Connected to event stream",
	})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", "scene_id", sceneID)
			return false

		case msg, ok := <-msgChan:
			if !ok {
				return false
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				return true
			}
			c.SSEvent(string(event.Type), event)
			return true

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return false
			}
			return true
		}
	})
}
