package sidestate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

var ref = screenplay.SceneRef{ScreenplayID: "sp-1", SceneID: "scene-1"}

func TestBeliefRetractIsSoft(t *testing.T) {
	tr := New(storage.NewMockStorage(), nil)
	ctx := context.Background()

	b, err := tr.AddBelief(ctx, ref.ScreenplayID, "role-a", "船长在说谎", 0.8, "d-1")
	require.NoError(t, err)
	require.NoError(t, tr.RetractBelief(ctx, ref.ScreenplayID, b.ID))

	err = tr.RetractBelief(ctx, ref.ScreenplayID, b.ID)
	assert.True(t, apperrors.IsNotActive(err), "second retract should be not_active, got %v", err)

	active, err := tr.ActiveBeliefs(ctx, ref.ScreenplayID, "role-a")
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := tr.BeliefHistory(ctx, ref.ScreenplayID, "role-a")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "船长在说谎", history[0].Content)
}

func TestAddBeliefValidates(t *testing.T) {
	tr := New(storage.NewMockStorage(), nil)
	ctx := context.Background()

	_, err := tr.AddBelief(ctx, "sp", "r", "  ", 0.5, "")
	assert.True(t, apperrors.IsValidation(err))
	_, err = tr.AddBelief(ctx, "sp", "r", "x", 1.5, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestBeliefsByRoleSkipsRolesWithoutBeliefs(t *testing.T) {
	tr := New(storage.NewMockStorage(), nil)
	ctx := context.Background()

	_, err := tr.AddBelief(ctx, ref.ScreenplayID, "role-a", "凶手左撇子", 0.6, "")
	require.NoError(t, err)

	byRole, err := tr.BeliefsByRole(ctx, ref.ScreenplayID, []string{"role-a", "role-b"})
	require.NoError(t, err)
	assert.Len(t, byRole["role-a"], 1)
	_, ok := byRole["role-b"]
	assert.False(t, ok)
}

func TestAdjustEmotion(t *testing.T) {
	tests := []struct {
		name    string
		start   *int
		delta   int
		want    int
		wantTag string
	}{
		{"raises existing", intPtr(40), 30, 70, "愤怒"},
		{"clamps at max", intPtr(90), 30, 100, "愤怒"},
		{"clamps at min", intPtr(10), -50, 0, "愤怒"},
		{"starts from default", nil, 10, 70, "愤怒"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(storage.NewMockStorage(), nil)
			ctx := context.Background()
			if tt.start != nil {
				_, err := tr.UpsertEmotion(ctx, ref, "role-a", "平静", *tt.start)
				require.NoError(t, err)
			}
			got, err := tr.AdjustEmotion(ctx, ref, "role-a", "愤怒", tt.delta)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Intensity)
			assert.Equal(t, tt.wantTag, got.EmotionType)
		})
	}
}

func TestEmotionDefaultsWhenAbsent(t *testing.T) {
	tr := New(storage.NewMockStorage(), nil)
	e, err := tr.Emotion(context.Background(), ref, "nobody")
	require.NoError(t, err)
	assert.Equal(t, screenplay.DefaultIntensity, e.Intensity)
	assert.Empty(t, e.EmotionType)
}

func TestUpsertEmotionLastWriteWins(t *testing.T) {
	tr := New(storage.NewMockStorage(), nil)
	ctx := context.Background()

	_, err := tr.UpsertEmotion(ctx, ref, "role-a", "紧张", 50)
	require.NoError(t, err)
	_, err = tr.UpsertEmotion(ctx, ref, "role-a", "恐惧", 80)
	require.NoError(t, err)

	byRole, err := tr.EmotionsByRole(ctx, ref)
	require.NoError(t, err)
	require.Len(t, byRole, 1)
	assert.Equal(t, "恐惧", byRole["role-a"].EmotionType)
	assert.Equal(t, 80, byRole["role-a"].Intensity)
}

func TestClueLifecycle(t *testing.T) {
	tr := New(storage.NewMockStorage(), nil)
	ctx := context.Background()

	inScene, err := tr.AddClue(ctx, ref.ScreenplayID, "role-a", ref.SceneID, "怀表停在三点", "d-2")
	require.NoError(t, err)
	offstage, err := tr.AddClue(ctx, ref.ScreenplayID, "role-a", "", "货舱里有血迹", "")
	require.NoError(t, err)
	_, err = tr.AddClue(ctx, ref.ScreenplayID, "role-a", "other-scene", "别处的线索", "")
	require.NoError(t, err)

	active, err := tr.ActiveClues(ctx, ref, "role-a")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, inScene.ID, active[0].ID)
	assert.Equal(t, offstage.ID, active[1].ID)

	assert.True(t, apperrors.IsValidation(tr.RetractClue(ctx, ref.ScreenplayID, inScene.ID, screenplay.ClueActive)))
	require.NoError(t, tr.RetractClue(ctx, ref.ScreenplayID, inScene.ID, screenplay.ClueResolved))
	assert.True(t, apperrors.IsNotActive(tr.RetractClue(ctx, ref.ScreenplayID, inScene.ID, screenplay.ClueDiscarded)))

	history, err := tr.ClueHistory(ctx, ref.ScreenplayID, "role-a")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func intPtr(v int) *int { return &v }
