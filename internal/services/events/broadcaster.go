package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeRequestQueued     EventType = "request.queued"
	EventTypeRequestProcessing EventType = "request.processing"
	EventTypeRequestCompleted  EventType = "request.completed"
	EventTypeRequestFailed     EventType = "request.failed"
	EventTypeDialogueAppended  EventType = "dialogue.appended"
	EventTypeDirectorDecision  EventType = "director.decision"
	EventTypeScenePaused       EventType = "scene.paused"
)

// Event is the envelope sent on a scene channel.
type Event struct {
	Type         EventType      `json:"type"`
	RequestID    string         `json:"request_id,omitempty"`
	ScreenplayID string         `json:"screenplay_id"`
	SceneID      string         `json:"scene_id"`
	Data         map[string]any `json:"data,omitempty"`
}

// Channel returns the pub/sub channel of a scene.
func Channel(sceneID string) string {
	return fmt.Sprintf("scene-events:%s", sceneID)
}

// Broadcaster publishes events to Redis Pub/Sub for SSE and websocket relays
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Subscribe opens a subscription to a scene's channel. The caller closes it.
func (b *Broadcaster) Subscribe(ctx context.Context, sceneID string) *redis.PubSub {
	return b.redisClient.Subscribe(ctx, Channel(sceneID))
}

// PublishRequestQueued publishes a request.queued event
func (b *Broadcaster) PublishRequestQueued(ctx context.Context, ref screenplay.SceneRef, requestID, requestType string) error {
	return b.publish(ctx, ref, Event{
		Type:      EventTypeRequestQueued,
		RequestID: requestID,
		Data: map[string]any{
			"status": "queued",
			"type":   requestType,
		},
	})
}

// PublishRequestProcessing publishes a request.processing event
func (b *Broadcaster) PublishRequestProcessing(ctx context.Context, ref screenplay.SceneRef, requestID, requestType, workerID string) error {
	return b.publish(ctx, ref, Event{
		Type:      EventTypeRequestProcessing,
		RequestID: requestID,
		Data: map[string]any{
			"status": "processing",
			"type":   requestType,
			"worker": workerID,
		},
	})
}

// PublishRequestCompleted publishes a request.completed event
func (b *Broadcaster) PublishRequestCompleted(ctx context.Context, ref screenplay.SceneRef, requestID string, turns int, counters director.Counters) error {
	return b.publish(ctx, ref, Event{
		Type:      EventTypeRequestCompleted,
		RequestID: requestID,
		Data: map[string]any{
			"status":   "completed",
			"turns":    turns,
			"counters": counters,
		},
	})
}

// PublishRequestFailed publishes a request.failed event
func (b *Broadcaster) PublishRequestFailed(ctx context.Context, ref screenplay.SceneRef, requestID, errorMsg string) error {
	return b.publish(ctx, ref, Event{
		Type:      EventTypeRequestFailed,
		RequestID: requestID,
		Data: map[string]any{
			"status": "failed",
			"error":  errorMsg,
		},
	})
}

// PublishDialogue publishes a dialogue.appended event for one ledger row.
func (b *Broadcaster) PublishDialogue(ctx context.Context, requestID string, d screenplay.Dialogue, speaker string) error {
	ref := screenplay.SceneRef{ScreenplayID: d.ScreenplayID, SceneID: d.SceneID}
	return b.publish(ctx, ref, Event{
		Type:      EventTypeDialogueAppended,
		RequestID: requestID,
		Data: map[string]any{
			"dialogue": d,
			"speaker":  speaker,
		},
	})
}

// PublishDecision publishes the director's decision for a turn.
func (b *Broadcaster) PublishDecision(ctx context.Context, ref screenplay.SceneRef, requestID string, dec director.Decision) error {
	return b.publish(ctx, ref, Event{
		Type:      EventTypeDirectorDecision,
		RequestID: requestID,
		Data: map[string]any{
			"decision": dec,
		},
	})
}

// PublishScenePaused tells listeners the scene needs a human before it continues.
func (b *Broadcaster) PublishScenePaused(ctx context.Context, ref screenplay.SceneRef, requestID, reason string) error {
	return b.publish(ctx, ref, Event{
		Type:      EventTypeScenePaused,
		RequestID: requestID,
		Data: map[string]any{
			"reason": reason,
		},
	})
}

// publish sends an event to the scene-specific channel
func (b *Broadcaster) publish(ctx context.Context, ref screenplay.SceneRef, event Event) error {
	event.ScreenplayID = ref.ScreenplayID
	event.SceneID = ref.SceneID
	channel := Channel(ref.SceneID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", channel,
		"event_type", event.Type,
		"request_id", event.RequestID,
	)

	return nil
}
