package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/internal/sidestate"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/chat"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/narrator"
	"github.com/jwebster45206/screenplay-engine/pkg/prompts"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

type testEnv struct {
	store    *storage.MockStorage
	ledger   *ledger.Ledger
	trackers *sidestate.Trackers
	llm      *services.MockLLMAPI
	ref      screenplay.SceneRef
	roles    map[string]screenplay.Role // by name
}

func setupEnv(t *testing.T, withDirector, withNarrator bool) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMockStorage()

	sp := &screenplay.Screenplay{Title: "雨夜庄园", Background: "暴雨困住了庄园。"}
	require.NoError(t, store.CreateScreenplay(ctx, sp))
	ch := &screenplay.Chapter{ScreenplayID: sp.ID, Title: "第一章"}
	require.NoError(t, store.CreateChapter(ctx, ch))
	scene := &screenplay.Scene{ScreenplayID: sp.ID, ChapterID: ch.ID, Name: "书房", Description: "壁炉将熄。"}
	require.NoError(t, store.CreateScene(ctx, scene))

	env := &testEnv{
		store:    store,
		ledger:   ledger.New(store, nil),
		trackers: sidestate.New(store, nil),
		llm:      services.NewMockLLMAPI(),
		ref:      screenplay.SceneRef{ScreenplayID: sp.ID, SceneID: scene.ID},
		roles:    make(map[string]screenplay.Role),
	}

	add := func(name string, typ screenplay.RoleType) {
		r := &screenplay.Role{ScreenplayID: sp.ID, Type: typ, Name: name, Identity: name + "的身份"}
		require.NoError(t, store.CreateRole(ctx, r))
		env.roles[name] = *r
	}
	add("林晚", screenplay.RoleTypeMember)
	add("周铭", screenplay.RoleTypeMember)
	add("沈鸢", screenplay.RoleTypeMember)
	if withDirector {
		add("导演", screenplay.RoleTypeAdmin)
	}
	if withNarrator {
		add("旁白", screenplay.RoleTypeNarrator)
	}

	for _, name := range []string{"林晚", "周铭"} {
		_, err := env.ledger.AdmitRole(ctx, env.ref, env.roles[name].ID, screenplay.EntryNormal)
		require.NoError(t, err)
	}
	return env
}

func (e *testEnv) scene(t *testing.T) *screenplay.SceneContext {
	t.Helper()
	sc, err := e.ledger.SceneContext(context.Background(), e.ref, 10)
	require.NoError(t, err)
	return sc
}

func (e *testEnv) narrator() *Narrator {
	return NewNarrator(e.llm, e.ledger, Options{}, nil)
}

func (e *testEnv) role() *Role {
	return NewRole(e.llm, e.ledger, e.trackers, e.narrator(), Options{}, nil)
}

func toolCall(name string, args any) chat.ToolCall {
	data, _ := json.Marshal(args)
	return chat.ToolCall{Name: name, Arguments: data}
}

// Director

func TestDirector_Decide(t *testing.T) {
	env := setupEnv(t, true, true)
	alice := env.roles["林晚"]
	env.llm.SetCompleteResponse(`{"next_speaker":"` + alice.ID + `","insert_narration":false,"suggest_scene_change":false,"request_director_intervention":null}`)

	d := NewDirector(env.llm, director.DefaultRhythm, Options{}, nil)
	dec, err := d.Decide(context.Background(), DirectorInput{Scene: env.scene(t)})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, dec.NextSpeaker)
	assert.False(t, dec.InsertNarration)

	calls, _ := env.llm.GetCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSONMode, "director must request JSON mode")
	assert.Empty(t, calls[0].Tools)
}

// decisionJSON renders a complete decision with the flags off; extra is
// spliced in as additional members.
func decisionJSON(speaker, extra string) string {
	sp := "null"
	if speaker != "" {
		sp = `"` + speaker + `"`
	}
	out := `{"next_speaker":` + sp + `,"insert_narration":false,"suggest_scene_change":false,"request_director_intervention":null`
	if extra != "" {
		out += "," + extra
	}
	return out + "}"
}

func TestDirector_FallbackOnBadOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"prose", "我认为林晚应该发言。"},
		{"truncated", `{"next_speaker":`},
		{"wrong shape", `{"next_speaker":null,"insert_narration":"maybe","suggest_scene_change":false,"request_director_intervention":null}`},
		{"array", `["r1"]`},
		{"empty object", `{}`},
		{"misnamed keys", `{"speaker":"r1","narrate":true}`},
		{"nested decision", `{"decision":{"next_speaker":"r1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t, true, true)
			env.llm.SetCompleteResponse(tt.raw)
			d := NewDirector(env.llm, director.DefaultRhythm, Options{}, nil)

			dec, err := d.Decide(context.Background(), DirectorInput{Scene: env.scene(t)})
			require.NoError(t, err, "decode failures are recovered locally")
			assert.Equal(t, director.Fallback(), dec)
		})
	}
}

func TestDirector_CompletionErrorPropagates(t *testing.T) {
	env := setupEnv(t, true, true)
	boom := errors.New("upstream down")
	env.llm.SetCompleteError(boom)

	d := NewDirector(env.llm, director.DefaultRhythm, Options{}, nil)
	_, err := d.Decide(context.Background(), DirectorInput{Scene: env.scene(t)})
	assert.ErrorIs(t, err, boom)
}

func TestDirector_RequiresDirectorRole(t *testing.T) {
	env := setupEnv(t, false, true)
	d := NewDirector(env.llm, director.DefaultRhythm, Options{}, nil)

	_, err := d.Decide(context.Background(), DirectorInput{Scene: env.scene(t)})
	assert.True(t, apperrors.IsValidation(err))
	calls, _ := env.llm.GetCalls()
	assert.Empty(t, calls, "no completion without a director")

	_, err = d.Decide(context.Background(), DirectorInput{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestDirector_Normalize(t *testing.T) {
	env := setupEnv(t, true, true)
	alice, bob, carol := env.roles["林晚"], env.roles["周铭"], env.roles["沈鸢"]

	tests := []struct {
		name        string
		raw         string
		in          DirectorInput
		wantSpeaker string
		wantNarrate bool
		wantEnter   bool
	}{
		{
			name:        "rhythm forces narration",
			raw:         decisionJSON(alice.ID, ""),
			in:          DirectorInput{Counters: director.Counters{ContinuousDialogueCount: 3}},
			wantSpeaker: alice.ID,
			wantNarrate: true,
		},
		{
			name:        "distance forces narration",
			raw:         decisionJSON(alice.ID, ""),
			in:          DirectorInput{Counters: director.Counters{LastNarrationDistance: 5}},
			wantSpeaker: alice.ID,
			wantNarrate: true,
		},
		{
			name: "absent speaker cleared",
			raw:  decisionJSON(carol.ID, ""),
		},
		{
			name:        "entering speaker kept",
			raw:         decisionJSON(carol.ID, `"role_enter":{"role_id":"`+carol.ID+`","entry_type":"sudden"}`),
			wantSpeaker: carol.ID,
			wantEnter:   true,
		},
		{
			name: "present role cannot enter",
			raw:  decisionJSON("", `"role_enter":{"role_id":"`+alice.ID+`"}`),
		},
		{
			name: "skipped speaker cleared",
			raw:  decisionJSON(bob.ID, ""),
			in:   DirectorInput{Skipped: []string{bob.ID}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.llm.SetCompleteResponse(tt.raw)
			in := tt.in
			in.Scene = env.scene(t)
			dec, err := NewDirector(env.llm, director.DefaultRhythm, Options{}, nil).Decide(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSpeaker, dec.NextSpeaker)
			assert.Equal(t, tt.wantNarrate, dec.InsertNarration)
			assert.Equal(t, tt.wantEnter, dec.RoleEnter != nil)
		})
	}
}

// Narrator

func TestNarrator_Narrate(t *testing.T) {
	env := setupEnv(t, true, true)
	env.llm.SetStreamResponse("旁白：", "雷声滚过屋顶，", "烛火一晃。")
	sc := env.scene(t)

	d, err := env.narrator().Narrate(context.Background(), NarrateInput{
		Scene:         sc,
		Task:          narrator.TaskInsertAtmosphere,
		TriggerReason: "导演要求插入氛围描写",
	})
	require.NoError(t, err)
	assert.Equal(t, screenplay.DialogueTypeNarrator, d.Type)
	assert.Empty(t, d.RoleID)
	assert.Empty(t, d.Action)
	assert.Equal(t, "雷声滚过屋顶，烛火一晃。", d.Text)
	assert.Equal(t, 1, d.TurnOrder)
	require.Len(t, sc.Recent, 1, "scene context should see the new narration")

	_, streams := env.llm.GetCalls()
	require.Len(t, streams, 1)
	assert.Contains(t, streams[0].Messages[1].Content, "【当前叙事需求】\n导演要求插入氛围描写")
}

func TestNarrator_Errors(t *testing.T) {
	t.Run("missing narrator role", func(t *testing.T) {
		env := setupEnv(t, true, false)
		_, err := env.narrator().Narrate(context.Background(), NarrateInput{Scene: env.scene(t), Task: narrator.TaskDescribeScene})
		assert.True(t, apperrors.IsValidation(err))
		_, streams := env.llm.GetCalls()
		assert.Empty(t, streams)
	})

	t.Run("unknown task", func(t *testing.T) {
		env := setupEnv(t, true, true)
		_, err := env.narrator().Narrate(context.Background(), NarrateInput{Scene: env.scene(t), Task: "sing"})
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("stream error", func(t *testing.T) {
		env := setupEnv(t, true, true)
		env.llm.SetStreamError(errors.New("stream broke"))
		_, err := env.narrator().Narrate(context.Background(), NarrateInput{Scene: env.scene(t), Task: narrator.TaskDescribeScene})
		assert.Error(t, err)
		dialogues, _ := env.ledger.Dialogues(context.Background(), env.ref)
		assert.Empty(t, dialogues)
	})

	t.Run("empty text", func(t *testing.T) {
		env := setupEnv(t, true, true)
		env.llm.SetStreamResponse("   ")
		_, err := env.narrator().Narrate(context.Background(), NarrateInput{Scene: env.scene(t), Task: narrator.TaskDescribeScene})
		assert.Error(t, err)
	})
}

// Role

func TestRole_Speak(t *testing.T) {
	env := setupEnv(t, true, true)
	alice := env.roles["林晚"]
	env.llm.SetToolCalls(toolCall(prompts.ToolSpeak, map[string]string{"text": "林晚：昨晚你在哪里？"}))
	sc := env.scene(t)

	turn, err := env.role().Act(context.Background(), RoleInput{Scene: sc, RoleID: alice.ID})
	require.NoError(t, err)
	require.Len(t, turn.Dialogues, 1)
	d := turn.Dialogues[0]
	assert.Equal(t, screenplay.DialogueTypeRole, d.Type)
	assert.Equal(t, alice.ID, d.RoleID)
	assert.Equal(t, "昨晚你在哪里？", d.Text)
	assert.Len(t, sc.Recent, 1)

	calls, _ := env.llm.GetCalls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].Tools, 7)
}

func TestRole_ActionThenSpeech(t *testing.T) {
	env := setupEnv(t, true, true)
	bob := env.roles["周铭"]
	env.llm.SetToolCalls(
		toolCall(prompts.ToolSpeak, map[string]string{"text": "我一直在厨房。"}),
		toolCall(prompts.ToolPerformAction, map[string]string{"raw_action": "攥紧围裙"}),
	)
	env.llm.SetStreamResponse("他的指节在围裙上绞出深深的褶皱。")

	turn, err := env.role().Act(context.Background(), RoleInput{Scene: env.scene(t), RoleID: bob.ID})
	require.NoError(t, err)
	require.Len(t, turn.Dialogues, 2)
	assert.Equal(t, screenplay.DialogueTypeNarrator, turn.Dialogues[0].Type, "action is narrated first")
	assert.Equal(t, 1, turn.Dialogues[0].TurnOrder)
	assert.Equal(t, screenplay.DialogueTypeRole, turn.Dialogues[1].Type)
	assert.Equal(t, 2, turn.Dialogues[1].TurnOrder)

	_, streams := env.llm.GetCalls()
	require.Len(t, streams, 1)
	assert.Contains(t, streams[0].Messages[1].Content, "攥紧围裙")
}

func TestRole_ForcedDialogueSkipsModel(t *testing.T) {
	env := setupEnv(t, true, true)
	alice := env.roles["林晚"]

	turn, err := env.role().Act(context.Background(), RoleInput{
		Scene:                 env.scene(t),
		RoleID:                alice.ID,
		ForcedDialogue:        "其实那封信是我烧的。",
		DirectorInstructionID: "instr-1",
	})
	require.NoError(t, err)
	assert.True(t, turn.Forced)
	require.Len(t, turn.Dialogues, 1)
	assert.Equal(t, "其实那封信是我烧的。", turn.Dialogues[0].Text)
	assert.Equal(t, "instr-1", turn.Dialogues[0].DirectorInstructionID)

	calls, _ := env.llm.GetCalls()
	assert.Empty(t, calls)
}

func TestRole_SideStateTools(t *testing.T) {
	env := setupEnv(t, true, true)
	ctx := context.Background()
	alice := env.roles["林晚"]

	old, err := env.trackers.AddBelief(ctx, env.ref.ScreenplayID, alice.ID, "管家可信", 0.6, "")
	require.NoError(t, err)

	env.llm.SetToolCalls(
		toolCall(prompts.ToolSpeak, map[string]string{"text": "你在撒谎。"}),
		toolCall(prompts.ToolUpdateEmotion, map[string]any{"intensity": 85, "emotion_type": "愤怒"}),
		toolCall(prompts.ToolAddBelief, map[string]any{"content": "管家在撒谎", "confidence": 0.9}),
		toolCall(prompts.ToolRetractBelief, map[string]any{"id": old.ID}),
		toolCall(prompts.ToolAddLatentClue, map[string]any{"content": "围裙上有灰烬"}),
		toolCall(prompts.ToolAddBelief, map[string]any{"content": "缺少置信度"}),
		chat.ToolCall{Name: prompts.ToolUpdateEmotion, Arguments: json.RawMessage(`{"intensity":"high"}`)},
	)

	turn, err := env.role().Act(ctx, RoleInput{Scene: env.scene(t), RoleID: alice.ID})
	require.NoError(t, err)
	require.Len(t, turn.Dialogues, 1)
	speechID := turn.Dialogues[0].ID
	assert.Equal(t, []string{prompts.ToolAddBelief, prompts.ToolUpdateEmotion}, turn.Skipped)

	emotion, err := env.trackers.Emotion(ctx, env.ref, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "愤怒", emotion.EmotionType)
	assert.Equal(t, 85, emotion.Intensity)

	beliefs, err := env.trackers.ActiveBeliefs(ctx, env.ref.ScreenplayID, alice.ID)
	require.NoError(t, err)
	require.Len(t, beliefs, 1)
	assert.Equal(t, "管家在撒谎", beliefs[0].Content)
	assert.Equal(t, speechID, beliefs[0].SourceDialogueID)

	clues, err := env.trackers.ActiveClues(ctx, env.ref, alice.ID)
	require.NoError(t, err)
	require.Len(t, clues, 1)
	assert.Equal(t, env.ref.SceneID, clues[0].SceneID)
	assert.Equal(t, speechID, clues[0].SourceDialogueID)
}

func TestRole_PlainTextFallsBackToSpeech(t *testing.T) {
	env := setupEnv(t, true, true)
	alice := env.roles["林晚"]
	env.llm.SetCompleteResponse("“我听见了脚步声。”")

	turn, err := env.role().Act(context.Background(), RoleInput{Scene: env.scene(t), RoleID: alice.ID})
	require.NoError(t, err)
	require.Len(t, turn.Dialogues, 1)
	assert.Equal(t, "我听见了脚步声。", turn.Dialogues[0].Text)
}

func TestRole_MustBeOnStage(t *testing.T) {
	env := setupEnv(t, true, true)
	carol := env.roles["沈鸢"]
	director := env.roles["导演"]

	_, err := env.role().Act(context.Background(), RoleInput{Scene: env.scene(t), RoleID: carol.ID})
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.role().Act(context.Background(), RoleInput{Scene: env.scene(t), RoleID: director.ID})
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.role().Act(context.Background(), RoleInput{Scene: env.scene(t), RoleID: carol.ID, ForcedDialogue: "我来了"})
	assert.True(t, apperrors.IsValidation(err))
}
