package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

func setup(t *testing.T) (*Ledger, *storage.MockStorage, screenplay.SceneRef, screenplay.Role) {
	t.Helper()
	store := storage.NewMockStorage()
	ctx := context.Background()

	sp := &screenplay.Screenplay{Title: "雾港谜案"}
	require.NoError(t, store.CreateScreenplay(ctx, sp))
	ch := &screenplay.Chapter{ScreenplayID: sp.ID}
	require.NoError(t, store.CreateChapter(ctx, ch))
	sc := &screenplay.Scene{ScreenplayID: sp.ID, ChapterID: ch.ID, Name: "码头"}
	require.NoError(t, store.CreateScene(ctx, sc))
	role := &screenplay.Role{ScreenplayID: sp.ID, Type: screenplay.RoleTypeMember, Name: "林探长"}
	require.NoError(t, store.CreateRole(ctx, role))

	return New(store, nil), store, screenplay.SceneRef{ScreenplayID: sp.ID, SceneID: sc.ID}, *role
}

func narration(text string) screenplay.Dialogue {
	return screenplay.Dialogue{Type: screenplay.DialogueTypeNarrator, Text: text}
}

func TestAppendDialogueStartsAtOne(t *testing.T) {
	l, _, ref, _ := setup(t)
	ctx := context.Background()

	first, err := l.AppendDialogue(ctx, ref, narration("夜雾弥漫。"))
	require.NoError(t, err)
	second, err := l.AppendDialogue(ctx, ref, narration("汽笛声远去。"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.TurnOrder)
	assert.Equal(t, 2, second.TurnOrder)
	assert.Equal(t, ref.SceneID, first.SceneID)
}

func TestAppendDialogueValidates(t *testing.T) {
	l, _, ref, _ := setup(t)
	ctx := context.Background()

	_, err := l.AppendDialogue(ctx, ref, screenplay.Dialogue{Type: screenplay.DialogueTypeRole, Text: "无名之声"})
	assert.True(t, apperrors.IsValidation(err), "role dialogue without role_id should fail validation, got %v", err)

	_, err = l.AppendDialogue(ctx, screenplay.SceneRef{}, narration("x"))
	assert.True(t, apperrors.IsValidation(err))
}

func TestAdmitAndRetractUseCurrentMaxTurn(t *testing.T) {
	l, _, ref, role := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.AppendDialogue(ctx, ref, narration("……"))
		require.NoError(t, err)
	}

	a, err := l.AdmitRole(ctx, ref, role.ID, screenplay.EntryDramatic)
	require.NoError(t, err)
	assert.Equal(t, 5, a.EnterTurn)
	assert.True(t, a.IsActive)
	assert.Equal(t, screenplay.EntryDramatic, a.EntryType)

	for i := 0; i < 2; i++ {
		_, err := l.AppendDialogue(ctx, ref, screenplay.Dialogue{
			Type: screenplay.DialogueTypeRole, RoleID: role.ID, Text: "我来晚了。",
		})
		require.NoError(t, err)
	}

	require.NoError(t, l.RetractRole(ctx, ref, a.ID))

	all, err := l.Appearances(ctx, ref)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
	require.NotNil(t, all[0].ExitTurn)
	assert.Equal(t, 7, *all[0].ExitTurn)
	assert.GreaterOrEqual(t, *all[0].ExitTurn, all[0].EnterTurn)
}

func TestAdmitTwiceConflicts(t *testing.T) {
	l, _, ref, role := setup(t)
	ctx := context.Background()

	_, err := l.AdmitRole(ctx, ref, role.ID, "")
	require.NoError(t, err)

	_, err = l.AdmitRole(ctx, ref, role.ID, screenplay.EntryQuiet)
	assert.True(t, apperrors.IsConflict(err), "expected conflict, got %v", err)

	active, err := l.ActiveRoles(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestAdmitUnknownRole(t *testing.T) {
	l, _, ref, _ := setup(t)
	_, err := l.AdmitRole(context.Background(), ref, "ghost", screenplay.EntryNormal)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRetractInactiveFails(t *testing.T) {
	l, _, ref, role := setup(t)
	ctx := context.Background()

	a, err := l.AdmitRole(ctx, ref, role.ID, screenplay.EntryNormal)
	require.NoError(t, err)
	require.NoError(t, l.RetractRole(ctx, ref, a.ID))

	err = l.RetractRole(ctx, ref, a.ID)
	assert.True(t, apperrors.IsNotActive(err), "expected not_active, got %v", err)

	err = l.RetractActiveRole(ctx, ref, role.ID)
	assert.True(t, apperrors.IsNotActive(err))

	// Re-admission after retraction is allowed.
	_, err = l.AdmitRole(ctx, ref, role.ID, screenplay.EntrySudden)
	require.NoError(t, err)
	require.NoError(t, l.RetractActiveRole(ctx, ref, role.ID))
}

func TestConcurrentAppendsInterleavedWithAppearances(t *testing.T) {
	l, _, ref, role := setup(t)
	ctx := context.Background()

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.AppendDialogue(ctx, ref, narration("风声。"))
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			a, err := l.AdmitRole(ctx, ref, role.ID, screenplay.EntryNormal)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, l.RetractRole(ctx, ref, a.ID))
		}
	}()
	wg.Wait()

	dialogues, err := l.Dialogues(ctx, ref)
	require.NoError(t, err)
	require.Len(t, dialogues, writers)
	for i, d := range dialogues {
		assert.Equal(t, i+1, d.TurnOrder)
	}

	all, err := l.Appearances(ctx, ref)
	require.NoError(t, err)
	for _, a := range all {
		require.NotNil(t, a.ExitTurn)
		assert.GreaterOrEqual(t, *a.ExitTurn, a.EnterTurn)
	}
}

func TestSceneLocksDropIdleEntries(t *testing.T) {
	locks := NewSceneLocks()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.Do("sp/scene", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if locks.Len() != 0 {
		t.Errorf("expected idle lock entries to be dropped, have %d", locks.Len())
	}
}

func TestSceneContext(t *testing.T) {
	l, store, ref, role := setup(t)
	ctx := context.Background()

	other := &screenplay.Role{ScreenplayID: ref.ScreenplayID, Type: screenplay.RoleTypeMember, Name: "码头工人"}
	require.NoError(t, store.CreateRole(ctx, other))

	for i := 0; i < 4; i++ {
		_, err := l.AppendDialogue(ctx, ref, narration("浪声。"))
		require.NoError(t, err)
	}
	_, err := l.AdmitRole(ctx, ref, role.ID, screenplay.EntryNormal)
	require.NoError(t, err)

	sc, err := l.SceneContext(ctx, ref, 3)
	require.NoError(t, err)
	assert.Equal(t, ref, sc.Ref())
	assert.Len(t, sc.Cast, 2)
	require.Len(t, sc.Present, 1)
	assert.Equal(t, role.ID, sc.Present[0].ID)
	require.Len(t, sc.Recent, 3)
	assert.Equal(t, 2, sc.Recent[0].TurnOrder)
	assert.Equal(t, 4, sc.Recent[2].TurnOrder)
	assert.Equal(t, []screenplay.Role{*other}, sc.Offstage())
}
