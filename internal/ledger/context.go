package ledger

import (
	"context"
	"fmt"

	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// SceneContext loads the explicit state of a scene: screenplay, scene, full
// cast, on-stage roles in entry order and the last window dialogues.
func (l *Ledger) SceneContext(ctx context.Context, ref screenplay.SceneRef, window int) (*screenplay.SceneContext, error) {
	sp, err := l.store.GetScreenplay(ctx, ref.ScreenplayID)
	if err != nil {
		return nil, fmt.Errorf("load screenplay: %w", err)
	}
	scene, err := l.store.GetScene(ctx, ref.ScreenplayID, ref.SceneID)
	if err != nil {
		return nil, fmt.Errorf("load scene: %w", err)
	}
	cast, err := l.store.ListRoles(ctx, ref.ScreenplayID)
	if err != nil {
		return nil, fmt.Errorf("load cast: %w", err)
	}
	active, err := l.ActiveRoles(ctx, ref)
	if err != nil {
		return nil, err
	}
	recent, err := l.Recent(ctx, ref, window)
	if err != nil {
		return nil, fmt.Errorf("load recent dialogues: %w", err)
	}

	sc := &screenplay.SceneContext{
		Screenplay: *sp,
		Scene:      *scene,
		Cast:       cast,
		Recent:     recent,
	}
	for _, a := range active {
		if r, ok := sc.Role(a.RoleID); ok {
			sc.Present = append(sc.Present, r)
		}
	}
	return sc, nil
}
