package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// Beliefs

const beliefColumns = `id, screenplay_id, role_id, content, confidence, source_dialogue_id, is_active,
	created_at, updated_at`

func (s *Store) InsertBelief(ctx context.Context, b *screenplay.RoleBelief) error {
	storage.Stamp(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_beliefs (`+beliefColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ScreenplayID, b.RoleID, b.Content, b.Confidence, b.SourceDialogueID, boolToInt(b.IsActive),
		toMillis(b.CreatedAt), toMillis(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert belief: %w", err)
	}
	return nil
}

func scanBelief(row scanner) (*screenplay.RoleBelief, error) {
	var b screenplay.RoleBelief
	var active int
	var created, updated int64
	if err := row.Scan(&b.ID, &b.ScreenplayID, &b.RoleID, &b.Content, &b.Confidence, &b.SourceDialogueID,
		&active, &created, &updated); err != nil {
		return nil, err
	}
	b.IsActive = active != 0
	b.CreatedAt, b.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &b, nil
}

func (s *Store) GetBelief(ctx context.Context, screenplayID, id string) (*screenplay.RoleBelief, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+beliefColumns+` FROM role_beliefs WHERE screenplay_id = ? AND id = ?`, screenplayID, id)
	b, err := scanBelief(row)
	if err != nil {
		return nil, notFound(err, "get belief")
	}
	return b, nil
}

func (s *Store) ListBeliefs(ctx context.Context, screenplayID string, filter storage.BeliefFilter) ([]screenplay.RoleBelief, error) {
	query := `SELECT ` + beliefColumns + ` FROM role_beliefs WHERE screenplay_id = ?`
	args := []any{screenplayID}
	if filter.RoleID != "" {
		query += ` AND role_id = ?`
		args = append(args, filter.RoleID)
	}
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	defer rows.Close()

	var out []screenplay.RoleBelief
	for rows.Next() {
		b, err := scanBelief(rows)
		if err != nil {
			return nil, fmt.Errorf("scan belief: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) SetBeliefActive(ctx context.Context, screenplayID, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE role_beliefs SET is_active = ?, updated_at = ? WHERE screenplay_id = ? AND id = ?`,
		boolToInt(active), toMillis(storage.Now()), screenplayID, id)
	return affected(res, err, "update belief")
}

// Emotions

const emotionColumns = `id, screenplay_id, scene_id, role_id, emotion_type, intensity, created_at, updated_at`

func scanEmotion(row scanner) (*screenplay.RoleEmotion, error) {
	var e screenplay.RoleEmotion
	var created, updated int64
	if err := row.Scan(&e.ID, &e.ScreenplayID, &e.SceneID, &e.RoleID, &e.EmotionType, &e.Intensity,
		&created, &updated); err != nil {
		return nil, err
	}
	e.CreatedAt, e.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &e, nil
}

func (s *Store) GetEmotion(ctx context.Context, ref screenplay.SceneRef, roleID string) (*screenplay.RoleEmotion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emotionColumns+` FROM role_emotions WHERE screenplay_id = ? AND scene_id = ? AND role_id = ?`,
		ref.ScreenplayID, ref.SceneID, roleID)
	e, err := scanEmotion(row)
	if err != nil {
		return nil, notFound(err, "get emotion")
	}
	return e, nil
}

func (s *Store) ListEmotions(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.RoleEmotion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emotionColumns+` FROM role_emotions WHERE screenplay_id = ? AND scene_id = ? ORDER BY rowid`,
		ref.ScreenplayID, ref.SceneID)
	if err != nil {
		return nil, fmt.Errorf("list emotions: %w", err)
	}
	defer rows.Close()

	var out []screenplay.RoleEmotion
	for rows.Next() {
		e, err := scanEmotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emotion: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UpsertEmotion keeps one row per (screenplay, scene, role); the last write wins.
func (s *Store) UpsertEmotion(ctx context.Context, e *screenplay.RoleEmotion) error {
	e.Intensity = screenplay.ClampIntensity(e.Intensity)
	storage.Stamp(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	return s.withTx(ctx, "upsert emotion", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_emotions (`+emotionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (screenplay_id, scene_id, role_id)
			 DO UPDATE SET emotion_type = excluded.emotion_type, intensity = excluded.intensity,
			               updated_at = excluded.updated_at`,
			e.ID, e.ScreenplayID, e.SceneID, e.RoleID, e.EmotionType, e.Intensity,
			toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
		); err != nil {
			return err
		}
		stored, err := scanEmotion(tx.QueryRowContext(ctx,
			`SELECT `+emotionColumns+` FROM role_emotions WHERE screenplay_id = ? AND scene_id = ? AND role_id = ?`,
			e.ScreenplayID, e.SceneID, e.RoleID))
		if err != nil {
			return err
		}
		*e = *stored
		return nil
	})
}

// Latent clues

const clueColumns = `id, screenplay_id, role_id, scene_id, content, source_dialogue_id, status,
	created_at, updated_at`

func (s *Store) InsertClue(ctx context.Context, c *screenplay.RoleLatentClue) error {
	if c.Status == "" {
		c.Status = screenplay.ClueActive
	}
	storage.Stamp(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_latent_clues (`+clueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ScreenplayID, c.RoleID, c.SceneID, c.Content, c.SourceDialogueID, string(c.Status),
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert clue: %w", err)
	}
	return nil
}

func scanClue(row scanner) (*screenplay.RoleLatentClue, error) {
	var c screenplay.RoleLatentClue
	var status string
	var created, updated int64
	if err := row.Scan(&c.ID, &c.ScreenplayID, &c.RoleID, &c.SceneID, &c.Content, &c.SourceDialogueID,
		&status, &created, &updated); err != nil {
		return nil, err
	}
	c.Status = screenplay.ClueStatus(status)
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &c, nil
}

func (s *Store) GetClue(ctx context.Context, screenplayID, id string) (*screenplay.RoleLatentClue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clueColumns+` FROM role_latent_clues WHERE screenplay_id = ? AND id = ?`, screenplayID, id)
	c, err := scanClue(row)
	if err != nil {
		return nil, notFound(err, "get clue")
	}
	return c, nil
}

func (s *Store) ListClues(ctx context.Context, screenplayID string, filter storage.ClueFilter) ([]screenplay.RoleLatentClue, error) {
	query := `SELECT ` + clueColumns + ` FROM role_latent_clues WHERE screenplay_id = ?`
	args := []any{screenplayID}
	if filter.RoleID != "" {
		query += ` AND role_id = ?`
		args = append(args, filter.RoleID)
	}
	switch {
	case filter.OffstageOnly:
		query += ` AND scene_id = ''`
	case filter.SceneID != "":
		query += ` AND scene_id = ?`
		args = append(args, filter.SceneID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("list clues: %w", err)
	}
	defer rows.Close()

	var out []screenplay.RoleLatentClue
	for rows.Next() {
		c, err := scanClue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clue: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) SetClueStatus(ctx context.Context, screenplayID, id string, status screenplay.ClueStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE role_latent_clues SET status = ?, updated_at = ? WHERE screenplay_id = ? AND id = ?`,
		string(status), toMillis(storage.Now()), screenplayID, id)
	return affected(res, err, "update clue")
}

// Director instructions

const instructionColumns = `id, screenplay_id, scene_id, instruction, params, dialogue_id, is_active,
	created_at, updated_at`

func (s *Store) InsertInstruction(ctx context.Context, in *screenplay.DirectorInstruction) error {
	storage.Stamp(&in.ID, &in.CreatedAt, &in.UpdatedAt)
	params := string(in.Params)
	if params == "" {
		params = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO director_instructions (`+instructionColumns+`, seq)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1
		 FROM director_instructions WHERE screenplay_id = ? AND scene_id = ?`,
		in.ID, in.ScreenplayID, in.SceneID, string(in.Kind), params, in.DialogueID, boolToInt(in.IsActive),
		toMillis(in.CreatedAt), toMillis(in.UpdatedAt), in.ScreenplayID, in.SceneID,
	)
	if err != nil {
		return fmt.Errorf("insert instruction: %w", err)
	}
	return nil
}

func (s *Store) ListInstructions(ctx context.Context, ref screenplay.SceneRef, pendingOnly bool) ([]screenplay.DirectorInstruction, error) {
	query := `SELECT ` + instructionColumns + ` FROM director_instructions WHERE screenplay_id = ? AND scene_id = ?`
	if pendingOnly {
		query += ` AND is_active = 0`
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY seq`, ref.ScreenplayID, ref.SceneID)
	if err != nil {
		return nil, fmt.Errorf("list instructions: %w", err)
	}
	defer rows.Close()

	var out []screenplay.DirectorInstruction
	for rows.Next() {
		var in screenplay.DirectorInstruction
		var kind, params string
		var active int
		var created, updated int64
		if err := rows.Scan(&in.ID, &in.ScreenplayID, &in.SceneID, &kind, &params, &in.DialogueID, &active,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		in.Kind = screenplay.InstructionKind(kind)
		in.Params = []byte(params)
		in.IsActive = active != 0
		in.CreatedAt, in.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) MarkInstructionApplied(ctx context.Context, ref screenplay.SceneRef, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE director_instructions SET is_active = 1, updated_at = ?
		 WHERE screenplay_id = ? AND scene_id = ? AND id = ?`,
		toMillis(storage.Now()), ref.ScreenplayID, ref.SceneID, id)
	return affected(res, err, "mark instruction applied")
}

// Screenplay log

func (s *Store) InsertLog(ctx context.Context, l *screenplay.Log) error {
	if l.Level == "" {
		l.Level = screenplay.LogLevelInfo
	}
	storage.Stamp(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sp_logs (id, screenplay_id, role_id, level, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ScreenplayID, l.RoleID, string(l.Level), l.Content, toMillis(l.CreatedAt), toMillis(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, screenplayID string) ([]screenplay.Log, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, screenplay_id, role_id, level, content, created_at, updated_at
		 FROM sp_logs WHERE screenplay_id = ? ORDER BY created_at, rowid`, screenplayID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []screenplay.Log
	for rows.Next() {
		var l screenplay.Log
		var level string
		var created, updated int64
		if err := rows.Scan(&l.ID, &l.ScreenplayID, &l.RoleID, &level, &l.Content, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		l.Level = screenplay.LogLevel(level)
		l.CreatedAt, l.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, l)
	}
	return out, rows.Err()
}
