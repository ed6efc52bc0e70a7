package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/screenplay-engine/internal/agents"
	"github.com/jwebster45206/screenplay-engine/internal/instructions"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/orchestrator"
	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/internal/services/events"
	"github.com/jwebster45206/screenplay-engine/internal/services/queue"
	"github.com/jwebster45206/screenplay-engine/internal/sidestate"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/internal/worker"
	"github.com/jwebster45206/screenplay-engine/pkg/chat"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/prompts"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	store  *storage.MockStorage
	cache  *services.MockCache
	queue  *queue.TurnQueue
	lock   *queue.SceneLock
	mr     *miniredis.Miniredis
	llm    *services.MockLLMAPI
	// speaker is the role the scripted director hands the turn to.
	speaker string
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	return setupServerWithLockTTL(t, 30*time.Second)
}

func setupServerWithLockTTL(t *testing.T, lockTTL time.Duration) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	mr := miniredis.RunT(t)
	client, err := queue.NewClient(ctx, mr.Addr(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store := storage.NewMockStorage()
	l := ledger.New(store, logger)
	trackers := sidestate.New(store, logger)

	ts := &testServer{}
	llm := services.NewMockLLMAPI()
	llm.CompleteFunc = func(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		if req.JSONMode {
			return &chat.CompletionResponse{Content: `{"next_speaker":"` + ts.speaker + `","insert_narration":false,"suggest_scene_change":false,"request_director_intervention":null}`}, nil
		}
		args, _ := json.Marshal(map[string]string{"text": "灯怎么灭了？"})
		return &chat.CompletionResponse{ToolCalls: []chat.ToolCall{{Name: prompts.ToolSpeak, Arguments: args}}}, nil
	}
	narr := agents.NewNarrator(llm, l, agents.Options{}, logger)
	role := agents.NewRole(llm, l, trackers, narr, agents.Options{}, logger)
	proc := instructions.New(store, l, trackers, narr, role, logger)
	orch := orchestrator.New(orchestrator.Deps{
		Store:        store,
		Ledger:       l,
		Trackers:     trackers,
		Director:     agents.NewDirector(llm, director.DefaultRhythm, agents.Options{}, logger),
		Narrator:     narr,
		Role:         role,
		Instructions: proc,
	}, orchestrator.Settings{}, logger)

	cache := services.NewMockCache()
	sessions := orchestrator.NewSessionStore(cache, logger)
	broadcaster := events.NewBroadcaster(client.GetRedisClient(), logger)
	turnQueue := queue.NewTurnQueue(client)
	lock := queue.NewSceneLock(client, lockTTL, logger)

	router := NewRouter(Handlers{
		Health:      NewHealthHandler(cache, store, logger),
		Screenplays: NewScreenplayHandler(store, logger),
		Scenes:      NewSceneHandler(l, trackers, proc, logger),
		Turns: NewTurnHandler(TurnHandlerDeps{
			Store:     store,
			Orch:      orch,
			Sessions:  sessions,
			Queue:     turnQueue,
			Publisher: broadcaster,
			Processor: worker.NewTurnProcessor(orch, sessions, store, broadcaster, logger),
			Lock:      lock,
		}, logger),
		Events:    NewEventsHandler(broadcaster, logger),
		WebSocket: NewWebSocketHandler(broadcaster, logger),
	}, logger)

	ts.router, ts.store, ts.cache = router, store, cache
	ts.queue, ts.lock, ts.llm, ts.mr = turnQueue, lock, llm, mr
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// fixture creates a screenplay with one chapter (and its scene) and two members.
type fixture struct {
	sp      screenplay.Screenplay
	scene   screenplay.Scene
	lin     screenplay.Role
	zhou    screenplay.Role
	baseURL string
}

func (s *testServer) fixture(t *testing.T) fixture {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/screenplays", map[string]any{"title": "雨夜庄园", "background": "暴雨封山"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sp := decode[screenplay.Screenplay](t, w)

	w = s.do(t, http.MethodPost, "/v1/screenplays/"+sp.ID+"/chapters", map[string]any{
		"title":          "第一章",
		"narrative_goal": "揭开管家的秘密",
		"scene_name":     "书房",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Chapter screenplay.Chapter `json:"chapter"`
		Scene   screenplay.Scene   `json:"scene"`
	}](t, w)

	var roles []screenplay.Role
	for _, r := range []map[string]any{
		{"name": "林晚", "personality": "冷静"},
		{"name": "周铭", "personality": "急躁"},
		{"name": "旁白", "type": "narrator"},
		{"name": "导演", "type": "admin"},
	} {
		w = s.do(t, http.MethodPost, "/v1/screenplays/"+sp.ID+"/roles", r)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		roles = append(roles, decode[screenplay.Role](t, w))
	}

	return fixture{
		sp:      sp,
		scene:   created.Scene,
		lin:     roles[0],
		zhou:    roles[1],
		baseURL: "/v1/screenplays/" + sp.ID + "/scenes/" + created.Scene.ID,
	}
}

func (s *testServer) admit(t *testing.T, f fixture, roleID string) screenplay.RoleAppearance {
	t.Helper()
	w := s.do(t, http.MethodPost, f.baseURL+"/appearances", map[string]any{"role_id": roleID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[screenplay.RoleAppearance](t, w)
}

func TestHealth(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["database"])

	s.cache.SetPingError(errors.New("connection refused"))
	w = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp = decode[HealthResponse](t, w)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Components["cache"])
}

func TestChapters_CreateWithFirstScene(t *testing.T) {
	s := setupServer(t)
	f := s.fixture(t)

	assert.Equal(t, "书房", f.scene.Name)
	assert.Equal(t, "揭开管家的秘密", f.scene.NarrativeGoal)
	assert.Equal(t, screenplay.TerminationGoalDriven, f.scene.TerminationStrategy)
	assert.Equal(t, 1, f.scene.OrderIndex)

	w := s.do(t, http.MethodPost, "/v1/screenplays/"+f.sp.ID+"/chapters", map[string]any{"title": "第二章"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/v1/screenplays/"+f.sp.ID+"/chapters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	chapters := decode[[]screenplay.Chapter](t, w)
	require.Len(t, chapters, 2)
	assert.Equal(t, 1, chapters[0].Index)
	assert.Equal(t, 2, chapters[1].Index)

	// Only the last chapter may be deleted.
	w = s.do(t, http.MethodDelete, "/v1/screenplays/"+f.sp.ID+"/chapters/"+chapters[0].ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(t, http.MethodDelete, "/v1/screenplays/"+f.sp.ID+"/chapters/"+chapters[1].ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/v1/screenplays/"+f.sp.ID+"/scenes", nil)
	scenes := decode[[]screenplay.Scene](t, w)
	assert.Len(t, scenes, 1)
}

func TestAuthoring_Validation(t *testing.T) {
	s := setupServer(t)
	f := s.fixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"screenplay without title", http.MethodPost, "/v1/screenplays", map[string]any{"title": " "}, http.StatusBadRequest},
		{"unknown screenplay", http.MethodGet, "/v1/screenplays/missing", nil, http.StatusNotFound},
		{"chapter for unknown screenplay", http.MethodPost, "/v1/screenplays/missing/chapters", map[string]any{"title": "x"}, http.StatusNotFound},
		{"bad termination strategy", http.MethodPost, "/v1/screenplays/" + f.sp.ID + "/chapters", map[string]any{"termination_strategy": "whenever"}, http.StatusBadRequest},
		{"role without name", http.MethodPost, "/v1/screenplays/" + f.sp.ID + "/roles", map[string]any{"type": "member"}, http.StatusBadRequest},
		{"role with bad type", http.MethodPost, "/v1/screenplays/" + f.sp.ID + "/roles", map[string]any{"name": "x", "type": "ghost"}, http.StatusBadRequest},
		{"unknown role", http.MethodGet, "/v1/screenplays/" + f.sp.ID + "/roles/missing", nil, http.StatusNotFound},
		{"scene for unknown chapter", http.MethodPost, "/v1/screenplays/" + f.sp.ID + "/scenes", map[string]any{"chapter_id": "missing"}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/v1/screenplays", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestScene_StageAndLedger(t *testing.T) {
	s := setupServer(t)
	f := s.fixture(t)

	a := s.admit(t, f, f.lin.ID)
	assert.True(t, a.IsActive)
	assert.Equal(t, screenplay.EntryNormal, a.EntryType)

	w := s.do(t, http.MethodPost, f.baseURL+"/appearances", map[string]any{"role_id": f.lin.ID})
	assert.Equal(t, http.StatusConflict, w.Code, "already on stage")

	w = s.do(t, http.MethodPost, f.baseURL+"/dialogues", map[string]any{"type": "role", "role_id": f.lin.ID, "dialogue": "有人吗？"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, f.baseURL+"/dialogues", map[string]any{"type": "narrator", "dialogue": "雷声滚过屋顶。"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodPost, f.baseURL+"/dialogues", map[string]any{"type": "role"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "role dialogue needs a role id")

	w = s.do(t, http.MethodGet, f.baseURL+"/dialogues", nil)
	dialogues := decode[[]screenplay.Dialogue](t, w)
	require.Len(t, dialogues, 2)
	assert.Equal(t, 1, dialogues[0].TurnOrder)
	assert.Equal(t, 2, dialogues[1].TurnOrder)

	w = s.do(t, http.MethodDelete, f.baseURL+"/appearances/"+a.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, f.baseURL+"/appearances/"+a.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "retracting twice is not_active")

	w = s.do(t, http.MethodGet, f.baseURL+"/appearances", nil)
	all := decode[[]screenplay.RoleAppearance](t, w)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
	assert.Equal(t, 0, all[0].EnterTurn)
	require.NotNil(t, all[0].ExitTurn)
	assert.Equal(t, 2, *all[0].ExitTurn)

	w = s.do(t, http.MethodGet, f.baseURL+"/appearances?active=true", nil)
	assert.Empty(t, decode[[]screenplay.RoleAppearance](t, w))
}

func TestScene_Instructions(t *testing.T) {
	s := setupServer(t)
	f := s.fixture(t)
	s.admit(t, f, f.lin.ID)

	w := s.do(t, http.MethodPost, f.baseURL+"/instructions", map[string]any{
		"kind":   "skip_turn",
		"params": map[string]any{"role_id": f.lin.ID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	in := decode[screenplay.DirectorInstruction](t, w)
	assert.Equal(t, screenplay.InstructionSkipTurn, in.Kind)
	assert.False(t, in.IsActive)

	w = s.do(t, http.MethodPost, f.baseURL+"/instructions", map[string]any{"kind": "summon_ghost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, f.baseURL+"/instructions", map[string]any{
		"kind":   "character_slip",
		"params": map[string]any{"target_role_id": f.zhou.ID, "content": "我那晚在场"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "target is not on stage")

	w = s.do(t, http.MethodGet, f.baseURL+"/instructions?pending=true", nil)
	pending := decode[[]screenplay.DirectorInstruction](t, w)
	require.Len(t, pending, 1)
	assert.Equal(t, in.ID, pending[0].ID)
}

func TestTurns_Enqueue(t *testing.T) {
	s := setupServer(t)
	f := s.fixture(t)
	ctx := context.Background()

	w := s.do(t, http.MethodPost, f.baseURL+"/turns", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	accepted := decode[TurnAcceptedResponse](t, w)
	assert.NotEmpty(t, accepted.RequestID)

	w = s.do(t, http.MethodPost, f.baseURL+"/turns", map[string]any{"type": "auto_play", "turns": 5})
	require.Equal(t, http.StatusAccepted, w.Code)

	depth, err := s.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	first, err := s.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, accepted.RequestID, first.RequestID)
	assert.Equal(t, 1, first.TurnBudget())

	w = s.do(t, http.MethodPost, f.baseURL+"/turns", map[string]any{"type": "rewind"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, f.baseURL+"/turns", map[string]any{"type": "auto_play", "turns": 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/v1/screenplays/"+f.sp.ID+"/scenes/missing/turns", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTurns_PlayTurn(t *testing.T) {
	s := setupServer(t)
	f := s.fixture(t)
	s.admit(t, f, f.lin.ID)
	s.speaker = f.lin.ID

	w := s.do(t, http.MethodPost, f.baseURL+"/turns/play", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[PlayTurnResponse](t, w)
	assert.Equal(t, 1, resp.Turns)
	assert.Equal(t, 1, resp.Session.Counters.DialogueLength)

	w = s.do(t, http.MethodGet, f.baseURL+"/dialogues", nil)
	dialogues := decode[[]screenplay.Dialogue](t, w)
	require.Len(t, dialogues, 1)
	assert.Equal(t, f.lin.ID, dialogues[0].RoleID)
	assert.Equal(t, "灯怎么灭了？", dialogues[0].Text)

	// A worker holding the scene blocks synchronous play.
	ok, err := s.lock.Acquire(context.Background(), f.scene.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	w = s.do(t, http.MethodPost, f.baseURL+"/turns/play", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTurns_PlayTurnKeepsLockAlive(t *testing.T) {
	const ttl = 300 * time.Millisecond
	s := setupServerWithLockTTL(t, ttl)
	f := s.fixture(t)
	s.admit(t, f, f.lin.ID)
	s.speaker = f.lin.ID

	// Hold the director call open so the turn outlives the lock's TTL.
	deciding := make(chan struct{})
	release := make(chan struct{})
	scripted := s.llm.CompleteFunc
	s.llm.CompleteFunc = func(ctx context.Context, req chat.CompletionRequest) (*chat.CompletionResponse, error) {
		if req.JSONMode {
			close(deciding)
			<-release
		}
		return scripted(ctx, req)
	}

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- s.do(t, http.MethodPost, f.baseURL+"/turns/play", nil) }()
	<-deciding

	key := "scene-lock:" + f.scene.ID
	for i := 0; i < 4; i++ {
		s.mr.FastForward(200 * time.Millisecond)
		require.True(t, s.mr.Exists(key), "lock expired mid-turn after %d steps", i+1)
		require.Eventually(t, func() bool { return s.mr.TTL(key) == ttl },
			2*time.Second, 5*time.Millisecond, "lock was not refreshed")
	}

	ok, err := s.lock.Acquire(context.Background(), f.scene.ID, "worker-1")
	require.NoError(t, err)
	assert.False(t, ok, "a worker must not take the scene while the turn is still playing")

	close(release)
	w := <-done
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[PlayTurnResponse](t, w).Turns)
	assert.False(t, s.mr.Exists(key), "lock released after the turn")
}

func TestTurns_SessionAndSwitch(t *testing.T) {
	s := setupServer(t)
	f := s.fixture(t)
	s.admit(t, f, f.lin.ID)
	s.speaker = f.lin.ID

	w := s.do(t, http.MethodPost, f.baseURL+"/turns/play", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, f.baseURL+"/session", nil)
	sess := decode[orchestrator.Session](t, w)
	assert.Equal(t, 1, sess.Counters.DialogueLength)

	w = s.do(t, http.MethodPost, "/v1/screenplays/"+f.sp.ID+"/scenes", map[string]any{"chapter_id": f.scene.ChapterID, "name": "走廊"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	next := decode[screenplay.Scene](t, w)

	w = s.do(t, http.MethodPost, f.baseURL+"/switch", map[string]any{"scene_id": f.scene.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, f.baseURL+"/switch", map[string]any{"scene_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, f.baseURL+"/switch", map[string]any{"scene_id": next.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	switched := decode[orchestrator.Session](t, w)
	assert.Equal(t, next.ID, switched.Ref.SceneID)
	assert.Equal(t, director.Counters{}, switched.Counters)

	w = s.do(t, http.MethodGet, f.baseURL+"/session", nil)
	assert.Equal(t, 0, decode[orchestrator.Session](t, w).Counters.DialogueLength, "old scene starts over")

	w = s.do(t, http.MethodDelete, "/v1/screenplays/"+f.sp.ID+"/scenes/"+next.ID+"/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(storage.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
