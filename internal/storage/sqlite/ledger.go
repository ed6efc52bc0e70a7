package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

const dialogueColumns = `id, screenplay_id, scene_id, turn_order, type, role_id, action, dialogue,
	director_instruction_id, created_at, updated_at`

// AppendDialogue reads the scene's max turn_order and inserts max+1 in the
// same transaction.
func (s *Store) AppendDialogue(ctx context.Context, d *screenplay.Dialogue) error {
	if err := d.Validate(); err != nil {
		return apperrors.NewValidationError("%v", err)
	}
	storage.Stamp(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	return s.withTx(ctx, "append dialogue", func(tx *sql.Tx) error {
		maxTurn, err := maxTurnOrder(ctx, tx, d.ScreenplayID, d.SceneID)
		if err != nil {
			return err
		}
		d.TurnOrder = maxTurn + 1
		_, err = tx.ExecContext(ctx,
			`INSERT INTO dialogues (`+dialogueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.ScreenplayID, d.SceneID, d.TurnOrder, string(d.Type), d.RoleID, d.Action, d.Text,
			d.DirectorInstructionID, toMillis(d.CreatedAt), toMillis(d.UpdatedAt),
		)
		return err
	})
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func maxTurnOrder(ctx context.Context, q queryRower, screenplayID, sceneID string) (int, error) {
	var maxTurn int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_order), 0) FROM dialogues WHERE screenplay_id = ? AND scene_id = ?`,
		screenplayID, sceneID,
	).Scan(&maxTurn)
	return maxTurn, err
}

func scanDialogue(row scanner) (*screenplay.Dialogue, error) {
	var d screenplay.Dialogue
	var dialogueType string
	var created, updated int64
	if err := row.Scan(&d.ID, &d.ScreenplayID, &d.SceneID, &d.TurnOrder, &dialogueType, &d.RoleID,
		&d.Action, &d.Text, &d.DirectorInstructionID, &created, &updated); err != nil {
		return nil, err
	}
	d.Type = screenplay.DialogueType(dialogueType)
	d.CreatedAt, d.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &d, nil
}

func (s *Store) queryDialogues(ctx context.Context, query string, args ...any) ([]screenplay.Dialogue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dialogues: %w", err)
	}
	defer rows.Close()

	var out []screenplay.Dialogue
	for rows.Next() {
		d, err := scanDialogue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dialogue: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) ListDialogues(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.Dialogue, error) {
	return s.queryDialogues(ctx,
		`SELECT `+dialogueColumns+` FROM dialogues WHERE screenplay_id = ? AND scene_id = ? ORDER BY turn_order`,
		ref.ScreenplayID, ref.SceneID)
}

func (s *Store) RecentDialogues(ctx context.Context, ref screenplay.SceneRef, n int) ([]screenplay.Dialogue, error) {
	if n <= 0 {
		return s.ListDialogues(ctx, ref)
	}
	recent, err := s.queryDialogues(ctx,
		`SELECT `+dialogueColumns+` FROM dialogues WHERE screenplay_id = ? AND scene_id = ?
		 ORDER BY turn_order DESC LIMIT ?`,
		ref.ScreenplayID, ref.SceneID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

func (s *Store) LastDialogue(ctx context.Context, ref screenplay.SceneRef) (*screenplay.Dialogue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+dialogueColumns+` FROM dialogues WHERE screenplay_id = ? AND scene_id = ?
		 ORDER BY turn_order DESC LIMIT 1`,
		ref.ScreenplayID, ref.SceneID)
	d, err := scanDialogue(row)
	if err != nil {
		return nil, notFound(err, "last dialogue")
	}
	return d, nil
}

func (s *Store) MaxTurnOrder(ctx context.Context, ref screenplay.SceneRef) (int, error) {
	maxTurn, err := maxTurnOrder(ctx, s.db, ref.ScreenplayID, ref.SceneID)
	if err != nil {
		return 0, fmt.Errorf("max turn order: %w", err)
	}
	return maxTurn, nil
}

// Appearances

const appearanceColumns = `id, screenplay_id, scene_id, role_id, enter_turn, exit_turn, is_active,
	entry_type, created_at, updated_at`

func (s *Store) InsertAppearance(ctx context.Context, a *screenplay.RoleAppearance) error {
	if a.EntryType == "" {
		a.EntryType = screenplay.EntryNormal
	}
	storage.Stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_appearances (`+appearanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ScreenplayID, a.SceneID, a.RoleID, a.EnterTurn, a.ExitTurn, boolToInt(a.IsActive),
		string(a.EntryType), toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return apperrors.NewConflictError("role %s is already on stage", a.RoleID)
	}
	if err != nil {
		return fmt.Errorf("insert appearance: %w", err)
	}
	return nil
}

func scanAppearance(row scanner) (*screenplay.RoleAppearance, error) {
	var a screenplay.RoleAppearance
	var exit sql.NullInt64
	var active int
	var entryType string
	var created, updated int64
	if err := row.Scan(&a.ID, &a.ScreenplayID, &a.SceneID, &a.RoleID, &a.EnterTurn, &exit, &active,
		&entryType, &created, &updated); err != nil {
		return nil, err
	}
	if exit.Valid {
		turn := int(exit.Int64)
		a.ExitTurn = &turn
	}
	a.IsActive = active != 0
	a.EntryType = screenplay.EntryType(entryType)
	a.CreatedAt, a.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &a, nil
}

func (s *Store) GetAppearance(ctx context.Context, ref screenplay.SceneRef, id string) (*screenplay.RoleAppearance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+appearanceColumns+` FROM role_appearances WHERE screenplay_id = ? AND scene_id = ? AND id = ?`,
		ref.ScreenplayID, ref.SceneID, id)
	a, err := scanAppearance(row)
	if err != nil {
		return nil, notFound(err, "get appearance")
	}
	return a, nil
}

func (s *Store) ListAppearances(ctx context.Context, ref screenplay.SceneRef, activeOnly bool) ([]screenplay.RoleAppearance, error) {
	query := `SELECT ` + appearanceColumns + ` FROM role_appearances WHERE screenplay_id = ? AND scene_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY enter_turn, rowid`, ref.ScreenplayID, ref.SceneID)
	if err != nil {
		return nil, fmt.Errorf("list appearances: %w", err)
	}
	defer rows.Close()

	var out []screenplay.RoleAppearance
	for rows.Next() {
		a, err := scanAppearance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appearance: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) CloseAppearance(ctx context.Context, ref screenplay.SceneRef, id string) (int, error) {
	var exitTurn int
	err := s.withTx(ctx, "close appearance", func(tx *sql.Tx) error {
		var active int
		err := tx.QueryRowContext(ctx,
			`SELECT is_active FROM role_appearances WHERE screenplay_id = ? AND scene_id = ? AND id = ?`,
			ref.ScreenplayID, ref.SceneID, id,
		).Scan(&active)
		if err != nil {
			return notFound(err, "load appearance")
		}
		if active == 0 {
			return apperrors.NewNotActiveError("appearance %s is not active", id)
		}
		if exitTurn, err = maxTurnOrder(ctx, tx, ref.ScreenplayID, ref.SceneID); err != nil {
			return fmt.Errorf("max turn order: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE role_appearances SET exit_turn = ?, is_active = 0, updated_at = ? WHERE id = ?`,
			exitTurn, toMillis(storage.Now()), id,
		)
		return err
	})
	if err != nil {
		return 0, err
	}
	return exitTurn, nil
}
