// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/internal/storage/sqlite/migrations"
	"github.com/jwebster45206/screenplay-engine/internal/storage/sqlitemigrate"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// Store provides SQLite-backed persistence for screenplays.
//
// The pool holds a single connection, so every transaction is also the only
// writer; code inside a transaction must use the tx, never s.db.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens and migrates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	// Transactions start IMMEDIATE so a read-then-write never has to upgrade its lock.
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Screenplays

func (s *Store) CreateScreenplay(ctx context.Context, sp *screenplay.Screenplay) error {
	if sp == nil {
		return errors.New("screenplay cannot be nil")
	}
	storage.Stamp(&sp.ID, &sp.CreatedAt, &sp.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO screenplays (id, title, background, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.Title, sp.Background, encodeStrings(sp.Tags), toMillis(sp.CreatedAt), toMillis(sp.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert screenplay: %w", err)
	}
	return nil
}

const screenplayColumns = `id, title, background, tags, created_at, updated_at`

func scanScreenplay(row scanner) (*screenplay.Screenplay, error) {
	var sp screenplay.Screenplay
	var tags string
	var created, updated int64
	if err := row.Scan(&sp.ID, &sp.Title, &sp.Background, &tags, &created, &updated); err != nil {
		return nil, err
	}
	sp.Tags = decodeStrings(tags)
	sp.CreatedAt, sp.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &sp, nil
}

func (s *Store) GetScreenplay(ctx context.Context, id string) (*screenplay.Screenplay, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+screenplayColumns+` FROM screenplays WHERE id = ?`, id)
	sp, err := scanScreenplay(row)
	if err != nil {
		return nil, notFound(err, "get screenplay")
	}
	return sp, nil
}

func (s *Store) ListScreenplays(ctx context.Context) ([]screenplay.Screenplay, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+screenplayColumns+` FROM screenplays ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list screenplays: %w", err)
	}
	defer rows.Close()

	var out []screenplay.Screenplay
	for rows.Next() {
		sp, err := scanScreenplay(rows)
		if err != nil {
			return nil, fmt.Errorf("scan screenplay: %w", err)
		}
		out = append(out, *sp)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScreenplay(ctx context.Context, sp *screenplay.Screenplay) error {
	sp.UpdatedAt = storage.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE screenplays SET title = ?, background = ?, tags = ?, updated_at = ? WHERE id = ?`,
		sp.Title, sp.Background, encodeStrings(sp.Tags), toMillis(sp.UpdatedAt), sp.ID,
	)
	return affected(res, err, "update screenplay")
}

// Chapters

const chapterColumns = `id, screenplay_id, chapter_index, title, description,
	narrative_goal, key_clues, required_revelations, termination_strategy, created_at, updated_at`

func (s *Store) CreateChapter(ctx context.Context, ch *screenplay.Chapter) error {
	if err := ch.Goal.Validate(); err != nil {
		return apperrors.NewValidationError("%v", err)
	}
	storage.Stamp(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
	return s.withTx(ctx, "create chapter", func(tx *sql.Tx) error {
		var maxIndex int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(chapter_index), 0) FROM chapters WHERE screenplay_id = ?`, ch.ScreenplayID,
		).Scan(&maxIndex); err != nil {
			return err
		}
		ch.Index = maxIndex + 1
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chapters (`+chapterColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ch.ID, ch.ScreenplayID, ch.Index, ch.Title, ch.Description,
			ch.NarrativeGoal, encodeStrings(ch.KeyClues), encodeStrings(ch.RequiredRevelations),
			string(ch.TerminationStrategy), toMillis(ch.CreatedAt), toMillis(ch.UpdatedAt),
		)
		return err
	})
}

func scanChapter(row scanner) (*screenplay.Chapter, error) {
	var ch screenplay.Chapter
	var clues, revelations, strategy string
	var created, updated int64
	if err := row.Scan(&ch.ID, &ch.ScreenplayID, &ch.Index, &ch.Title, &ch.Description,
		&ch.NarrativeGoal, &clues, &revelations, &strategy, &created, &updated); err != nil {
		return nil, err
	}
	ch.KeyClues = decodeStrings(clues)
	ch.RequiredRevelations = decodeStrings(revelations)
	ch.TerminationStrategy = screenplay.TerminationStrategy(strategy)
	ch.CreatedAt, ch.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &ch, nil
}

func (s *Store) GetChapter(ctx context.Context, screenplayID, id string) (*screenplay.Chapter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE screenplay_id = ? AND id = ?`, screenplayID, id)
	ch, err := scanChapter(row)
	if err != nil {
		return nil, notFound(err, "get chapter")
	}
	return ch, nil
}

func (s *Store) ListChapters(ctx context.Context, screenplayID string) ([]screenplay.Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE screenplay_id = ? ORDER BY chapter_index`, screenplayID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var out []screenplay.Chapter
	for rows.Next() {
		ch, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (s *Store) UpdateChapter(ctx context.Context, ch *screenplay.Chapter) error {
	if err := ch.Goal.Validate(); err != nil {
		return apperrors.NewValidationError("%v", err)
	}
	ch.UpdatedAt = storage.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chapters SET title = ?, description = ?, narrative_goal = ?, key_clues = ?,
		 required_revelations = ?, termination_strategy = ?, updated_at = ?
		 WHERE screenplay_id = ? AND id = ?`,
		ch.Title, ch.Description, ch.NarrativeGoal, encodeStrings(ch.KeyClues),
		encodeStrings(ch.RequiredRevelations), string(ch.TerminationStrategy), toMillis(ch.UpdatedAt),
		ch.ScreenplayID, ch.ID,
	)
	return affected(res, err, "update chapter")
}

func (s *Store) DeleteChapter(ctx context.Context, screenplayID, id string) error {
	return s.withTx(ctx, "delete chapter", func(tx *sql.Tx) error {
		var index, maxIndex int
		err := tx.QueryRowContext(ctx,
			`SELECT chapter_index FROM chapters WHERE screenplay_id = ? AND id = ?`, screenplayID, id,
		).Scan(&index)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT MAX(chapter_index) FROM chapters WHERE screenplay_id = ?`, screenplayID,
		).Scan(&maxIndex); err != nil {
			return err
		}
		if index != maxIndex {
			return apperrors.NewConflictError("only the last chapter can be deleted")
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM chapters WHERE id = ?`, id)
		return err
	})
}

// Scenes

const sceneColumns = `id, screenplay_id, chapter_id, order_index, name, description,
	narrative_goal, key_clues, required_revelations, termination_strategy, created_at, updated_at`

func (s *Store) CreateScene(ctx context.Context, sc *screenplay.Scene) error {
	if err := sc.Goal.Validate(); err != nil {
		return apperrors.NewValidationError("%v", err)
	}
	storage.Stamp(&sc.ID, &sc.CreatedAt, &sc.UpdatedAt)
	return s.withTx(ctx, "create scene", func(tx *sql.Tx) error {
		var chapterCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chapters WHERE screenplay_id = ? AND id = ?`, sc.ScreenplayID, sc.ChapterID,
		).Scan(&chapterCount); err != nil {
			return err
		}
		if chapterCount == 0 {
			return apperrors.NewValidationError("chapter %s does not exist", sc.ChapterID)
		}

		var maxIndex int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(order_index), 0) FROM scenes WHERE screenplay_id = ?`, sc.ScreenplayID,
		).Scan(&maxIndex); err != nil {
			return err
		}
		sc.OrderIndex = maxIndex + 1
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scenes (`+sceneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ID, sc.ScreenplayID, sc.ChapterID, sc.OrderIndex, sc.Name, sc.Description,
			sc.NarrativeGoal, encodeStrings(sc.KeyClues), encodeStrings(sc.RequiredRevelations),
			string(sc.TerminationStrategy), toMillis(sc.CreatedAt), toMillis(sc.UpdatedAt),
		)
		return err
	})
}

func scanScene(row scanner) (*screenplay.Scene, error) {
	var sc screenplay.Scene
	var clues, revelations, strategy string
	var created, updated int64
	if err := row.Scan(&sc.ID, &sc.ScreenplayID, &sc.ChapterID, &sc.OrderIndex, &sc.Name, &sc.Description,
		&sc.NarrativeGoal, &clues, &revelations, &strategy, &created, &updated); err != nil {
		return nil, err
	}
	sc.KeyClues = decodeStrings(clues)
	sc.RequiredRevelations = decodeStrings(revelations)
	sc.TerminationStrategy = screenplay.TerminationStrategy(strategy)
	sc.CreatedAt, sc.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &sc, nil
}

func (s *Store) GetScene(ctx context.Context, screenplayID, id string) (*screenplay.Scene, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE screenplay_id = ? AND id = ?`, screenplayID, id)
	sc, err := scanScene(row)
	if err != nil {
		return nil, notFound(err, "get scene")
	}
	return sc, nil
}

func (s *Store) ListScenes(ctx context.Context, screenplayID, chapterID string) ([]screenplay.Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE screenplay_id = ?`
	args := []any{screenplayID}
	if chapterID != "" {
		query += ` AND chapter_id = ?`
		args = append(args, chapterID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY order_index`, args...)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	var out []screenplay.Scene
	for rows.Next() {
		sc, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScene(ctx context.Context, sc *screenplay.Scene) error {
	if err := sc.Goal.Validate(); err != nil {
		return apperrors.NewValidationError("%v", err)
	}
	sc.UpdatedAt = storage.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE scenes SET name = ?, description = ?, narrative_goal = ?, key_clues = ?,
		 required_revelations = ?, termination_strategy = ?, updated_at = ?
		 WHERE screenplay_id = ? AND id = ?`,
		sc.Name, sc.Description, sc.NarrativeGoal, encodeStrings(sc.KeyClues),
		encodeStrings(sc.RequiredRevelations), string(sc.TerminationStrategy), toMillis(sc.UpdatedAt),
		sc.ScreenplayID, sc.ID,
	)
	return affected(res, err, "update scene")
}

// Roles

const roleColumns = `id, screenplay_id, type, name, identity, secret_info, personality, model,
	min_response_length, max_response_length, temperature, created_at, updated_at`

func (s *Store) CreateRole(ctx context.Context, r *screenplay.Role) error {
	if err := r.Validate(); err != nil {
		return apperrors.NewValidationError("%v", err)
	}
	storage.Stamp(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ScreenplayID, string(r.Type), r.Name, r.Identity, r.SecretInfo, r.Personality, r.Model,
		r.MinResponseLength, r.MaxResponseLength, r.Temperature, toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func scanRole(row scanner) (*screenplay.Role, error) {
	var r screenplay.Role
	var roleType string
	var created, updated int64
	if err := row.Scan(&r.ID, &r.ScreenplayID, &roleType, &r.Name, &r.Identity, &r.SecretInfo, &r.Personality,
		&r.Model, &r.MinResponseLength, &r.MaxResponseLength, &r.Temperature, &created, &updated); err != nil {
		return nil, err
	}
	r.Type = screenplay.RoleType(roleType)
	r.CreatedAt, r.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &r, nil
}

func (s *Store) GetRole(ctx context.Context, screenplayID, id string) (*screenplay.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE screenplay_id = ? AND id = ?`, screenplayID, id)
	r, err := scanRole(row)
	if err != nil {
		return nil, notFound(err, "get role")
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context, screenplayID string) ([]screenplay.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE screenplay_id = ? ORDER BY created_at, rowid`, screenplayID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []screenplay.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRole(ctx context.Context, r *screenplay.Role) error {
	if err := r.Validate(); err != nil {
		return apperrors.NewValidationError("%v", err)
	}
	r.UpdatedAt = storage.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE roles SET type = ?, name = ?, identity = ?, secret_info = ?, personality = ?, model = ?,
		 min_response_length = ?, max_response_length = ?, temperature = ?, updated_at = ?
		 WHERE screenplay_id = ? AND id = ?`,
		string(r.Type), r.Name, r.Identity, r.SecretInfo, r.Personality, r.Model,
		r.MinResponseLength, r.MaxResponseLength, r.Temperature, toMillis(r.UpdatedAt),
		r.ScreenplayID, r.ID,
	)
	return affected(res, err, "update role")
}

// helpers

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func affected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(raw string) []string {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
