package instructions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/screenplay-engine/internal/agents"
	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/internal/sidestate"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

type fixture struct {
	store     *storage.MockStorage
	ledger    *ledger.Ledger
	trackers  *sidestate.Trackers
	llm       *services.MockLLMAPI
	processor *Processor
	ref       screenplay.SceneRef
	onStage   screenplay.Role
	offStage  screenplay.Role
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMockStorage()

	sp := &screenplay.Screenplay{Title: "雨夜庄园"}
	require.NoError(t, store.CreateScreenplay(ctx, sp))
	ch := &screenplay.Chapter{ScreenplayID: sp.ID, Title: "第一章"}
	require.NoError(t, store.CreateChapter(ctx, ch))
	scene := &screenplay.Scene{ScreenplayID: sp.ID, ChapterID: ch.ID, Name: "书房"}
	require.NoError(t, store.CreateScene(ctx, scene))

	roles := map[string]*screenplay.Role{
		"林晚": {ScreenplayID: sp.ID, Type: screenplay.RoleTypeMember, Name: "林晚"},
		"周铭": {ScreenplayID: sp.ID, Type: screenplay.RoleTypeMember, Name: "周铭"},
		"旁白": {ScreenplayID: sp.ID, Type: screenplay.RoleTypeNarrator, Name: "旁白"},
	}
	for _, r := range roles {
		require.NoError(t, store.CreateRole(ctx, r))
	}

	l := ledger.New(store, nil)
	trackers := sidestate.New(store, nil)
	llm := services.NewMockLLMAPI()
	n := agents.NewNarrator(llm, l, agents.Options{}, nil)
	role := agents.NewRole(llm, l, trackers, n, agents.Options{}, nil)

	f := &fixture{
		store:     store,
		ledger:    l,
		trackers:  trackers,
		llm:       llm,
		processor: New(store, l, trackers, n, role, nil),
		ref:       screenplay.SceneRef{ScreenplayID: sp.ID, SceneID: scene.ID},
		onStage:   *roles["林晚"],
		offStage:  *roles["周铭"],
	}
	_, err := l.AdmitRole(ctx, f.ref, f.onStage.ID, screenplay.EntryNormal)
	require.NoError(t, err)
	return f
}

func (f *fixture) scene(t *testing.T) *screenplay.SceneContext {
	t.Helper()
	sc, err := f.ledger.SceneContext(context.Background(), f.ref, 10)
	require.NoError(t, err)
	return sc
}

func params(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestIssue_AnchorsToLastDialogue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	in, err := f.processor.Issue(ctx, f.ref, screenplay.InstructionExternalEvent, params(t, map[string]string{"description": "停电"}))
	require.NoError(t, err)
	assert.Empty(t, in.DialogueID, "no dialogue yet")
	assert.False(t, in.IsActive)

	d, err := f.ledger.AppendDialogue(ctx, f.ref, screenplay.Dialogue{Type: screenplay.DialogueTypeNarrator, Text: "夜深了。"})
	require.NoError(t, err)

	in, err = f.processor.Issue(ctx, f.ref, screenplay.InstructionSkipTurn, params(t, map[string]string{"role_id": f.onStage.ID}))
	require.NoError(t, err)
	assert.Equal(t, d.ID, in.DialogueID)

	pending, err := f.processor.List(ctx, f.ref, true)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestIssue_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		kind   screenplay.InstructionKind
		params any
	}{
		{"slip targets offstage role", screenplay.InstructionCharacterSlip, map[string]string{"target_role_id": f.offStage.ID, "content": "是我做的"}},
		{"slip without content", screenplay.InstructionCharacterSlip, map[string]string{"target_role_id": f.onStage.ID}},
		{"reveal by offstage role", screenplay.InstructionRevealItem, map[string]string{"item_desc": "钥匙", "discoverer_id": f.offStage.ID}},
		{"skip unknown role", screenplay.InstructionSkipTurn, map[string]string{"role_id": "nobody"}},
		{"emotion zero delta", screenplay.InstructionTriggerEmotion, map[string]any{"role_id": f.onStage.ID, "emotion": "恐惧", "delta": 0}},
		{"unknown kind", "teleport", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.processor.Issue(ctx, f.ref, tt.kind, params(t, tt.params))
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
		})
	}

	all, err := f.processor.List(ctx, f.ref, false)
	require.NoError(t, err)
	assert.Empty(t, all, "rejected instructions must not be stored")
}

func TestApplyPending_CharacterSlip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	in, err := f.processor.Issue(ctx, f.ref, screenplay.InstructionCharacterSlip,
		params(t, map[string]string{"target_role_id": f.onStage.ID, "content": "那封信……是我烧的。"}))
	require.NoError(t, err)

	out, err := f.processor.ApplyPending(ctx, f.scene(t))
	require.NoError(t, err)
	assert.True(t, out.Processed())
	require.Len(t, out.Dialogues, 1)
	assert.Equal(t, "那封信……是我烧的。", out.Dialogues[0].Text)
	assert.Equal(t, in.ID, out.Dialogues[0].DirectorInstructionID)

	calls, streams := f.llm.GetCalls()
	assert.Empty(t, calls)
	assert.Empty(t, streams)

	pending, err := f.processor.List(ctx, f.ref, true)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApplyPending_RevealAndExternalEvent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.llm.SetStreamResponse("抽屉深处，一枚铜钥匙泛着冷光。")

	_, err := f.processor.Issue(ctx, f.ref, screenplay.InstructionRevealItem,
		params(t, map[string]string{"item_desc": "铜钥匙", "discoverer_id": f.onStage.ID}))
	require.NoError(t, err)
	_, err = f.processor.Issue(ctx, f.ref, screenplay.InstructionExternalEvent,
		params(t, map[string]string{"description": "雷击断电"}))
	require.NoError(t, err)

	sc := f.scene(t)
	out, err := f.processor.ApplyPending(ctx, sc)
	require.NoError(t, err)
	require.Len(t, out.Applied, 2)
	require.Len(t, out.Dialogues, 4)

	assert.Equal(t, screenplay.DialogueTypeNarrator, out.Dialogues[0].Type)
	assert.Equal(t, screenplay.DialogueTypeEvent, out.Dialogues[1].Type)
	assert.Equal(t, "物品发现：铜钥匙", out.Dialogues[1].Text)
	assert.Equal(t, f.onStage.ID, out.Dialogues[1].RoleID)
	assert.Equal(t, "环境事件：雷击断电", out.Dialogues[3].Text)
	assert.Len(t, sc.Recent, 4)

	_, streams := f.llm.GetCalls()
	require.Len(t, streams, 2)
	assert.Contains(t, streams[0].Messages[1].Content, "物品发现：铜钥匙")
	assert.Contains(t, streams[1].Messages[1].Content, "环境事件：雷击断电")
}

func TestApplyPending_SkipTurn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.processor.Issue(ctx, f.ref, screenplay.InstructionSkipTurn, params(t, map[string]string{"role_id": f.onStage.ID}))
	require.NoError(t, err)

	out, err := f.processor.ApplyPending(ctx, f.scene(t))
	require.NoError(t, err)
	assert.Equal(t, []string{f.onStage.ID}, out.Skipped)
	assert.Empty(t, out.Dialogues)
}

func TestApplyPending_TriggerEmotion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.trackers.UpsertEmotion(ctx, f.ref, f.onStage.ID, "不安", 40)
	require.NoError(t, err)

	issue := func(delta int) {
		_, err := f.processor.Issue(ctx, f.ref, screenplay.InstructionTriggerEmotion,
			params(t, map[string]any{"role_id": f.onStage.ID, "emotion": "恐惧", "delta": delta}))
		require.NoError(t, err)
		_, err = f.processor.ApplyPending(ctx, f.scene(t))
		require.NoError(t, err)
	}

	issue(30)
	e, err := f.trackers.Emotion(ctx, f.ref, f.onStage.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, e.Intensity)
	assert.Equal(t, "恐惧", e.EmotionType)

	issue(50)
	e, err = f.trackers.Emotion(ctx, f.ref, f.onStage.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, e.Intensity)
}

func TestApplyPending_FailureStaysPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.llm.SetStreamError(errors.New("narrator offline"))

	failing, err := f.processor.Issue(ctx, f.ref, screenplay.InstructionExternalEvent, params(t, map[string]string{"description": "敲门声"}))
	require.NoError(t, err)
	_, err = f.processor.Issue(ctx, f.ref, screenplay.InstructionSkipTurn, params(t, map[string]string{"role_id": f.onStage.ID}))
	require.NoError(t, err)

	out, err := f.processor.ApplyPending(ctx, f.scene(t))
	require.NoError(t, err)
	require.Len(t, out.Failed, 1)
	require.Len(t, out.Applied, 1)
	assert.Equal(t, screenplay.InstructionSkipTurn, out.Applied[0].Kind)

	pending, err := f.processor.List(ctx, f.ref, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, failing.ID, pending[0].ID)

	dialogues, err := f.ledger.Dialogues(ctx, f.ref)
	require.NoError(t, err)
	assert.Empty(t, dialogues, "failed narration leaves the ledger untouched")

	logs, err := f.store.ListLogs(ctx, f.ref.ScreenplayID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, screenplay.LogLevelError, logs[0].Level)
	assert.Contains(t, logs[0].Content, failing.ID)
}

func TestApplyPending_EventRowFailureDoesNotReplayNarration(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.llm.SetStreamResponse("窗外一道闪电，灯光骤灭。")
	f.store.SetAppendDialogueError(func(d *screenplay.Dialogue) error {
		if d.Type == screenplay.DialogueTypeEvent {
			return errors.New("disk full")
		}
		return nil
	})

	in, err := f.processor.Issue(ctx, f.ref, screenplay.InstructionExternalEvent, params(t, map[string]string{"description": "雷击断电"}))
	require.NoError(t, err)

	out, err := f.processor.ApplyPending(ctx, f.scene(t))
	require.NoError(t, err)
	require.Len(t, out.Applied, 1)
	assert.Equal(t, in.ID, out.Applied[0].ID)
	assert.Empty(t, out.Failed)
	require.Len(t, out.Dialogues, 1)
	assert.Equal(t, screenplay.DialogueTypeNarrator, out.Dialogues[0].Type)

	pending, err := f.processor.List(ctx, f.ref, true)
	require.NoError(t, err)
	assert.Empty(t, pending, "narrated instruction must not stay pending")

	logs, err := f.store.ListLogs(ctx, f.ref.ScreenplayID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Content, in.ID)

	// The next turn has nothing left to apply, so the narration is not repeated.
	f.store.SetAppendDialogueError(nil)
	out, err = f.processor.ApplyPending(ctx, f.scene(t))
	require.NoError(t, err)
	assert.False(t, out.Processed())

	dialogues, err := f.ledger.Dialogues(ctx, f.ref)
	require.NoError(t, err)
	require.Len(t, dialogues, 1)
	assert.Equal(t, screenplay.DialogueTypeNarrator, dialogues[0].Type)
	_, streams := f.llm.GetCalls()
	assert.Len(t, streams, 1)
}

func TestApplyPending_SlipAfterRoleLeft(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.processor.Issue(ctx, f.ref, screenplay.InstructionCharacterSlip,
		params(t, map[string]string{"target_role_id": f.onStage.ID, "content": "……"}))
	require.NoError(t, err)
	require.NoError(t, f.ledger.RetractActiveRole(ctx, f.ref, f.onStage.ID))

	out, err := f.processor.ApplyPending(ctx, f.scene(t))
	require.NoError(t, err)
	assert.False(t, out.Processed())
	assert.Len(t, out.Failed, 1)
}
