// Package ledger assigns turn order to scene events and tracks which roles are
// on stage, serializing every mutation per scene.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

type Ledger struct {
	store  storage.Store
	locks  *SceneLocks
	logger *slog.Logger
}

func New(store storage.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, locks: NewSceneLocks(), logger: logger}
}

// AppendDialogue stores d at the end of the scene with turn_order = max+1.
func (l *Ledger) AppendDialogue(ctx context.Context, ref screenplay.SceneRef, d screenplay.Dialogue) (screenplay.Dialogue, error) {
	if err := ref.Validate(); err != nil {
		return screenplay.Dialogue{}, apperrors.NewValidationError("%v", err)
	}
	d.ID = ""
	d.ScreenplayID = ref.ScreenplayID
	d.SceneID = ref.SceneID
	if err := d.Validate(); err != nil {
		return screenplay.Dialogue{}, apperrors.NewValidationError("%v", err)
	}

	err := l.locks.Do(ref.String(), func() error {
		return l.store.AppendDialogue(ctx, &d)
	})
	if err != nil {
		return screenplay.Dialogue{}, fmt.Errorf("append dialogue: %w", err)
	}
	l.logger.Debug("dialogue appended",
		"scene", ref.String(), "turn_order", d.TurnOrder, "type", d.Type, "role_id", d.RoleID)
	return d, nil
}

// AdmitRole puts a role on stage with enter_turn = the scene's current max
// turn_order. A role that is already on stage is a conflict.
func (l *Ledger) AdmitRole(ctx context.Context, ref screenplay.SceneRef, roleID string, entry screenplay.EntryType) (screenplay.RoleAppearance, error) {
	if err := ref.Validate(); err != nil {
		return screenplay.RoleAppearance{}, apperrors.NewValidationError("%v", err)
	}
	if entry == "" {
		entry = screenplay.EntryNormal
	}
	if !entry.Valid() {
		return screenplay.RoleAppearance{}, apperrors.NewValidationError("invalid entry type: %s", entry)
	}
	if _, err := l.store.GetRole(ctx, ref.ScreenplayID, roleID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return screenplay.RoleAppearance{}, apperrors.NewValidationError("role %s does not exist", roleID)
		}
		return screenplay.RoleAppearance{}, fmt.Errorf("load role: %w", err)
	}

	var appearance screenplay.RoleAppearance
	err := l.locks.Do(ref.String(), func() error {
		active, err := l.store.ListAppearances(ctx, ref, true)
		if err != nil {
			return err
		}
		for _, a := range active {
			if a.RoleID == roleID {
				return apperrors.NewConflictError("role %s is already on stage", roleID)
			}
		}
		maxTurn, err := l.store.MaxTurnOrder(ctx, ref)
		if err != nil {
			return err
		}
		appearance = screenplay.RoleAppearance{
			ScreenplayID: ref.ScreenplayID,
			SceneID:      ref.SceneID,
			RoleID:       roleID,
			EnterTurn:    maxTurn,
			IsActive:     true,
			EntryType:    entry,
		}
		return l.store.InsertAppearance(ctx, &appearance)
	})
	if err != nil {
		return screenplay.RoleAppearance{}, fmt.Errorf("admit role: %w", err)
	}
	l.logger.Info("role admitted", "scene", ref.String(), "role_id", roleID, "enter_turn", appearance.EnterTurn)
	return appearance, nil
}

// RetractRole takes an appearance off stage with exit_turn = the scene's
// current max turn_order. Retracting an inactive appearance fails with not_active.
func (l *Ledger) RetractRole(ctx context.Context, ref screenplay.SceneRef, appearanceID string) error {
	if err := ref.Validate(); err != nil {
		return apperrors.NewValidationError("%v", err)
	}
	var exitTurn int
	err := l.locks.Do(ref.String(), func() error {
		var err error
		exitTurn, err = l.store.CloseAppearance(ctx, ref, appearanceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("retract role: %w", err)
	}
	l.logger.Info("role retracted", "scene", ref.String(), "appearance_id", appearanceID, "exit_turn", exitTurn)
	return nil
}

// RetractActiveRole retracts the active appearance of roleID, if any.
func (l *Ledger) RetractActiveRole(ctx context.Context, ref screenplay.SceneRef, roleID string) error {
	active, err := l.ActiveRoles(ctx, ref)
	if err != nil {
		return err
	}
	for _, a := range active {
		if a.RoleID == roleID {
			return l.RetractRole(ctx, ref, a.ID)
		}
	}
	return apperrors.NewNotActiveError("role %s is not on stage", roleID)
}

// ActiveRoles lists the appearances currently on stage, in entry order.
func (l *Ledger) ActiveRoles(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.RoleAppearance, error) {
	active, err := l.store.ListAppearances(ctx, ref, true)
	if err != nil {
		return nil, fmt.Errorf("list active roles: %w", err)
	}
	return active, nil
}

// Appearances lists every appearance of the scene, retracted ones included.
func (l *Ledger) Appearances(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.RoleAppearance, error) {
	all, err := l.store.ListAppearances(ctx, ref, false)
	if err != nil {
		return nil, fmt.Errorf("list appearances: %w", err)
	}
	return all, nil
}

// Dialogues returns the full ledger of the scene.
func (l *Ledger) Dialogues(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.Dialogue, error) {
	return l.store.ListDialogues(ctx, ref)
}

// Recent returns the last n dialogues, oldest first.
func (l *Ledger) Recent(ctx context.Context, ref screenplay.SceneRef, n int) ([]screenplay.Dialogue, error) {
	return l.store.RecentDialogues(ctx, ref, n)
}
