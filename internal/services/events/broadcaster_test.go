package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func receive(t *testing.T, sub *redis.PubSub) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
	return ev
}

func TestBroadcaster_SceneChannel(t *testing.T) {
	client := setupTestRedis(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	b := NewBroadcaster(client, logger)
	ctx := context.Background()
	ref := screenplay.SceneRef{ScreenplayID: "sp-1", SceneID: "scene-1"}

	sub := b.Subscribe(ctx, ref.SceneID)
	defer sub.Close()
	_, err := sub.Receive(ctx) // subscription confirmation
	require.NoError(t, err)

	other := b.Subscribe(ctx, "scene-2")
	defer other.Close()
	_, err = other.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.PublishRequestQueued(ctx, ref, "req-1", "next_turn"))
	ev := receive(t, sub)
	assert.Equal(t, EventTypeRequestQueued, ev.Type)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "sp-1", ev.ScreenplayID)
	assert.Equal(t, "queued", ev.Data["status"])

	d := screenplay.Dialogue{ID: "d1", ScreenplayID: "sp-1", SceneID: "scene-1", TurnOrder: 3, Type: screenplay.DialogueTypeRole, Text: "你好"}
	require.NoError(t, b.PublishDialogue(ctx, "req-1", d, "林晚"))
	ev = receive(t, sub)
	assert.Equal(t, EventTypeDialogueAppended, ev.Type)
	assert.Equal(t, "林晚", ev.Data["speaker"])
	dialogue, ok := ev.Data["dialogue"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), dialogue["turn_order"])

	require.NoError(t, b.PublishDecision(ctx, ref, "req-1", director.Fallback()))
	ev = receive(t, sub)
	assert.Equal(t, EventTypeDirectorDecision, ev.Type)

	require.NoError(t, b.PublishScenePaused(ctx, ref, "req-1", director.FallbackReason))
	ev = receive(t, sub)
	assert.Equal(t, EventTypeScenePaused, ev.Type)
	assert.Equal(t, director.FallbackReason, ev.Data["reason"])

	// Nothing leaked to the other scene.
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = other.ReceiveMessage(shortCtx)
	assert.Error(t, err)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "scene-events:abc", Channel("abc"))
}
