// Package sidestate keeps the per-role beliefs, emotions and latent clues that
// feed the director and role prompts. Nothing is ever hard-deleted: beliefs are
// deactivated and clues move to a terminal status.
package sidestate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

type Trackers struct {
	store  storage.Store
	logger *slog.Logger
}

func New(store storage.Store, logger *slog.Logger) *Trackers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trackers{store: store, logger: logger}
}

// Beliefs

func (t *Trackers) AddBelief(ctx context.Context, screenplayID, roleID, content string, confidence float64, sourceDialogueID string) (screenplay.RoleBelief, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return screenplay.RoleBelief{}, apperrors.NewValidationError("belief content is required")
	}
	if confidence < 0 || confidence > 1 {
		return screenplay.RoleBelief{}, apperrors.NewValidationError("confidence must be within [0,1], got %v", confidence)
	}
	b := screenplay.RoleBelief{
		ScreenplayID:     screenplayID,
		RoleID:           roleID,
		Content:          content,
		Confidence:       confidence,
		SourceDialogueID: sourceDialogueID,
		IsActive:         true,
	}
	if err := t.store.InsertBelief(ctx, &b); err != nil {
		return screenplay.RoleBelief{}, fmt.Errorf("add belief: %w", err)
	}
	return b, nil
}

// RetractBelief deactivates a held belief. The row is kept.
func (t *Trackers) RetractBelief(ctx context.Context, screenplayID, id string) error {
	b, err := t.store.GetBelief(ctx, screenplayID, id)
	if err != nil {
		return fmt.Errorf("retract belief: %w", err)
	}
	if !b.IsActive {
		return apperrors.NewNotActiveError("belief %s is not active", id)
	}
	if err := t.store.SetBeliefActive(ctx, screenplayID, id, false); err != nil {
		return fmt.Errorf("retract belief: %w", err)
	}
	return nil
}

func (t *Trackers) ActiveBeliefs(ctx context.Context, screenplayID, roleID string) ([]screenplay.RoleBelief, error) {
	return t.store.ListBeliefs(ctx, screenplayID, storage.BeliefFilter{RoleID: roleID, ActiveOnly: true})
}

// BeliefHistory returns every belief of the role, retracted ones included.
func (t *Trackers) BeliefHistory(ctx context.Context, screenplayID, roleID string) ([]screenplay.RoleBelief, error) {
	return t.store.ListBeliefs(ctx, screenplayID, storage.BeliefFilter{RoleID: roleID})
}

// BeliefsByRole groups the active beliefs of the given roles.
func (t *Trackers) BeliefsByRole(ctx context.Context, screenplayID string, roleIDs []string) (map[string][]screenplay.RoleBelief, error) {
	out := make(map[string][]screenplay.RoleBelief, len(roleIDs))
	for _, id := range roleIDs {
		beliefs, err := t.ActiveBeliefs(ctx, screenplayID, id)
		if err != nil {
			return nil, fmt.Errorf("beliefs of %s: %w", id, err)
		}
		if len(beliefs) > 0 {
			out[id] = beliefs
		}
	}
	return out, nil
}

// Emotions

// UpsertEmotion overwrites the role's emotion in the scene.
func (t *Trackers) UpsertEmotion(ctx context.Context, ref screenplay.SceneRef, roleID, emotionType string, intensity int) (screenplay.RoleEmotion, error) {
	e := screenplay.RoleEmotion{
		ScreenplayID: ref.ScreenplayID,
		SceneID:      ref.SceneID,
		RoleID:       roleID,
		EmotionType:  strings.TrimSpace(emotionType),
		Intensity:    screenplay.ClampIntensity(intensity),
	}
	if err := t.store.UpsertEmotion(ctx, &e); err != nil {
		return screenplay.RoleEmotion{}, fmt.Errorf("upsert emotion: %w", err)
	}
	return e, nil
}

// AdjustEmotion adds delta to the current intensity, clamped to [0,100]. A role
// without a recorded emotion starts from the default intensity. An empty
// emotionType keeps the current label.
func (t *Trackers) AdjustEmotion(ctx context.Context, ref screenplay.SceneRef, roleID, emotionType string, delta int) (screenplay.RoleEmotion, error) {
	current, err := t.Emotion(ctx, ref, roleID)
	if err != nil {
		return screenplay.RoleEmotion{}, err
	}
	if strings.TrimSpace(emotionType) == "" {
		emotionType = current.EmotionType
	}
	updated, err := t.UpsertEmotion(ctx, ref, roleID, emotionType, current.Intensity+delta)
	if err != nil {
		return screenplay.RoleEmotion{}, err
	}
	t.logger.Debug("emotion adjusted", "scene", ref.String(), "role_id", roleID,
		"from", current.Intensity, "to", updated.Intensity)
	return updated, nil
}

// Emotion returns the role's emotion, or a zero-label emotion at the default
// intensity when none has been recorded.
func (t *Trackers) Emotion(ctx context.Context, ref screenplay.SceneRef, roleID string) (screenplay.RoleEmotion, error) {
	e, err := t.store.GetEmotion(ctx, ref, roleID)
	if errors.Is(err, storage.ErrNotFound) {
		return screenplay.RoleEmotion{
			ScreenplayID: ref.ScreenplayID,
			SceneID:      ref.SceneID,
			RoleID:       roleID,
			Intensity:    screenplay.DefaultIntensity,
		}, nil
	}
	if err != nil {
		return screenplay.RoleEmotion{}, fmt.Errorf("get emotion: %w", err)
	}
	return *e, nil
}

// EmotionsByRole maps role id to the recorded emotion for the scene.
func (t *Trackers) EmotionsByRole(ctx context.Context, ref screenplay.SceneRef) (map[string]screenplay.RoleEmotion, error) {
	all, err := t.store.ListEmotions(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("list emotions: %w", err)
	}
	out := make(map[string]screenplay.RoleEmotion, len(all))
	for _, e := range all {
		out[e.RoleID] = e
	}
	return out, nil
}

// Latent clues

// AddClue plants a clue. An empty sceneID makes it an off-stage clue.
func (t *Trackers) AddClue(ctx context.Context, screenplayID, roleID, sceneID, content, sourceDialogueID string) (screenplay.RoleLatentClue, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return screenplay.RoleLatentClue{}, apperrors.NewValidationError("clue content is required")
	}
	c := screenplay.RoleLatentClue{
		ScreenplayID:     screenplayID,
		RoleID:           roleID,
		SceneID:          sceneID,
		Content:          content,
		SourceDialogueID: sourceDialogueID,
		Status:           screenplay.ClueActive,
	}
	if err := t.store.InsertClue(ctx, &c); err != nil {
		return screenplay.RoleLatentClue{}, fmt.Errorf("add clue: %w", err)
	}
	return c, nil
}

// RetractClue moves an active clue to resolved or discarded.
func (t *Trackers) RetractClue(ctx context.Context, screenplayID, id string, status screenplay.ClueStatus) error {
	if !status.Terminal() {
		return apperrors.NewValidationError("clue can only move to resolved or discarded, got %q", status)
	}
	c, err := t.store.GetClue(ctx, screenplayID, id)
	if err != nil {
		return fmt.Errorf("retract clue: %w", err)
	}
	if c.Status != screenplay.ClueActive {
		return apperrors.NewNotActiveError("clue %s is not active", id)
	}
	if err := t.store.SetClueStatus(ctx, screenplayID, id, status); err != nil {
		return fmt.Errorf("retract clue: %w", err)
	}
	return nil
}

// ActiveClues lists the role's active clues in the scene plus its off-stage ones.
func (t *Trackers) ActiveClues(ctx context.Context, ref screenplay.SceneRef, roleID string) ([]screenplay.RoleLatentClue, error) {
	inScene, err := t.store.ListClues(ctx, ref.ScreenplayID, storage.ClueFilter{
		RoleID: roleID, SceneID: ref.SceneID, Status: screenplay.ClueActive,
	})
	if err != nil {
		return nil, fmt.Errorf("list clues: %w", err)
	}
	offstage, err := t.store.ListClues(ctx, ref.ScreenplayID, storage.ClueFilter{
		RoleID: roleID, OffstageOnly: true, Status: screenplay.ClueActive,
	})
	if err != nil {
		return nil, fmt.Errorf("list clues: %w", err)
	}
	return append(inScene, offstage...), nil
}

// ClueHistory returns every clue of the screenplay, any status.
func (t *Trackers) ClueHistory(ctx context.Context, screenplayID, roleID string) ([]screenplay.RoleLatentClue, error) {
	return t.store.ListClues(ctx, screenplayID, storage.ClueFilter{RoleID: roleID})
}
