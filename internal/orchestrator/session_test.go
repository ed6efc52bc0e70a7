package orchestrator

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

func TestSessionStore_MockCache(t *testing.T) {
	cache := services.NewMockCache()
	store := NewSessionStore(cache, nil)
	ctx := context.Background()
	ref := screenplay.SceneRef{ScreenplayID: "sp-1", SceneID: "scene-1"}

	fresh, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, fresh.Ref)
	assert.Equal(t, director.Counters{}, fresh.Counters)

	fresh.Counters = director.Counters{DialogueLength: 4, ContinuousDialogueCount: 2, LastNarrationDistance: 1}
	fresh.Skipped = []string{"r1"}
	fresh.pause("剧情偏离主线")
	require.NoError(t, store.Save(ctx, fresh))

	require.Len(t, cache.SetCalls, 1)
	assert.Equal(t, "session:sp-1:scene-1", cache.SetCalls[0].Key)
	assert.Equal(t, sessionTTL, cache.SetCalls[0].Expiration)

	loaded, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, fresh.Counters, loaded.Counters)
	assert.Equal(t, []string{"r1"}, loaded.Skipped)
	assert.True(t, loaded.Paused)

	loaded.Resume()
	assert.False(t, loaded.Paused)
	assert.Empty(t, loaded.PauseReason)

	require.NoError(t, store.Delete(ctx, ref))
	gone, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 0, gone.Counters.DialogueLength)
}

func TestSessionStore_UnreadableSessionStartsFresh(t *testing.T) {
	cache := services.NewMockCache()
	ctx := context.Background()
	ref := screenplay.SceneRef{ScreenplayID: "sp-1", SceneID: "scene-1"}
	require.NoError(t, cache.Set(ctx, sessionKey(ref), "{not json", 0))

	sess, err := NewSessionStore(cache, nil).Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, sess.Ref)
	assert.False(t, sess.Paused)
}

func TestSessionStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	redis, err := services.NewRedisService(mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redis.Close() })

	store := NewSessionStore(redis, nil)
	ctx := context.Background()
	ref := screenplay.SceneRef{ScreenplayID: "sp-9", SceneID: "scene-3"}

	sess := NewSession(ref)
	sess.Counters.DialogueLength = 11
	require.NoError(t, store.Save(ctx, sess))
	assert.True(t, mr.Exists("session:sp-9:scene-3"))
	assert.Equal(t, sessionTTL, mr.TTL("session:sp-9:scene-3"))

	loaded, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 11, loaded.Counters.DialogueLength)
}
