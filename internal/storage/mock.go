package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// MockStorage is an in-memory Store for tests
type MockStorage struct {
	mu           sync.RWMutex
	screenplays  map[string]screenplay.Screenplay
	chapters     map[string]screenplay.Chapter
	scenes       map[string]screenplay.Scene
	roles        map[string]screenplay.Role
	dialogues    []screenplay.Dialogue
	appearances  []screenplay.RoleAppearance
	beliefs      []screenplay.RoleBelief
	emotions     []screenplay.RoleEmotion
	clues        []screenplay.RoleLatentClue
	instructions []screenplay.DirectorInstruction
	logs         []screenplay.Log
	pingError    error
	appendError  func(d *screenplay.Dialogue) error
}

// Ensure MockStorage implements Store interface
var _ Store = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		screenplays: make(map[string]screenplay.Screenplay),
		chapters:    make(map[string]screenplay.Chapter),
		scenes:      make(map[string]screenplay.Scene),
		roles:       make(map[string]screenplay.Role),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// SetAppendDialogueError makes AppendDialogue fail whenever fn returns an error for the row
func (m *MockStorage) SetAppendDialogueError(fn func(d *screenplay.Dialogue) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendError = fn
}

func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

func (m *MockStorage) Close() error {
	return nil
}

// Screenplays

func (m *MockStorage) CreateScreenplay(ctx context.Context, sp *screenplay.Screenplay) error {
	if sp == nil {
		return errors.New("screenplay cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	Stamp(&sp.ID, &sp.CreatedAt, &sp.UpdatedAt)
	m.screenplays[sp.ID] = *sp
	return nil
}

func (m *MockStorage) GetScreenplay(ctx context.Context, id string) (*screenplay.Screenplay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sp, ok := m.screenplays[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sp, nil
}

func (m *MockStorage) ListScreenplays(ctx context.Context) ([]screenplay.Screenplay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]screenplay.Screenplay, 0, len(m.screenplays))
	for _, sp := range m.screenplays {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStorage) UpdateScreenplay(ctx context.Context, sp *screenplay.Screenplay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.screenplays[sp.ID]
	if !ok {
		return ErrNotFound
	}
	sp.CreatedAt = old.CreatedAt
	sp.UpdatedAt = Now()
	m.screenplays[sp.ID] = *sp
	return nil
}

// Chapters

func (m *MockStorage) CreateChapter(ctx context.Context, ch *screenplay.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maxIndex := 0
	for _, c := range m.chapters {
		if c.ScreenplayID == ch.ScreenplayID && c.Index > maxIndex {
			maxIndex = c.Index
		}
	}
	ch.Index = maxIndex + 1
	Stamp(&ch.ID, &ch.CreatedAt, &ch.UpdatedAt)
	m.chapters[ch.ID] = *ch
	return nil
}

func (m *MockStorage) GetChapter(ctx context.Context, screenplayID, id string) (*screenplay.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.chapters[id]
	if !ok || ch.ScreenplayID != screenplayID {
		return nil, ErrNotFound
	}
	return &ch, nil
}

func (m *MockStorage) ListChapters(ctx context.Context, screenplayID string) ([]screenplay.Chapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.Chapter
	for _, ch := range m.chapters {
		if ch.ScreenplayID == screenplayID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *MockStorage) UpdateChapter(ctx context.Context, ch *screenplay.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.chapters[ch.ID]
	if !ok || old.ScreenplayID != ch.ScreenplayID {
		return ErrNotFound
	}
	ch.Index = old.Index
	ch.CreatedAt = old.CreatedAt
	ch.UpdatedAt = Now()
	m.chapters[ch.ID] = *ch
	return nil
}

func (m *MockStorage) DeleteChapter(ctx context.Context, screenplayID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chapters[id]
	if !ok || ch.ScreenplayID != screenplayID {
		return ErrNotFound
	}
	for _, c := range m.chapters {
		if c.ScreenplayID == screenplayID && c.Index > ch.Index {
			return apperrors.NewConflictError("only the last chapter can be deleted")
		}
	}
	delete(m.chapters, id)
	for sid, sc := range m.scenes {
		if sc.ChapterID == id {
			delete(m.scenes, sid)
		}
	}
	return nil
}

// Scenes

func (m *MockStorage) CreateScene(ctx context.Context, sc *screenplay.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.chapters[sc.ChapterID]; !ok || ch.ScreenplayID != sc.ScreenplayID {
		return apperrors.NewValidationError("chapter %s does not exist", sc.ChapterID)
	}
	maxIndex := 0
	for _, s := range m.scenes {
		if s.ScreenplayID == sc.ScreenplayID && s.OrderIndex > maxIndex {
			maxIndex = s.OrderIndex
		}
	}
	sc.OrderIndex = maxIndex + 1
	Stamp(&sc.ID, &sc.CreatedAt, &sc.UpdatedAt)
	m.scenes[sc.ID] = *sc
	return nil
}

func (m *MockStorage) GetScene(ctx context.Context, screenplayID, id string) (*screenplay.Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.scenes[id]
	if !ok || sc.ScreenplayID != screenplayID {
		return nil, ErrNotFound
	}
	return &sc, nil
}

func (m *MockStorage) ListScenes(ctx context.Context, screenplayID, chapterID string) ([]screenplay.Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.Scene
	for _, sc := range m.scenes {
		if sc.ScreenplayID != screenplayID {
			continue
		}
		if chapterID != "" && sc.ChapterID != chapterID {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (m *MockStorage) UpdateScene(ctx context.Context, sc *screenplay.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.scenes[sc.ID]
	if !ok || old.ScreenplayID != sc.ScreenplayID {
		return ErrNotFound
	}
	sc.ChapterID = old.ChapterID
	sc.OrderIndex = old.OrderIndex
	sc.CreatedAt = old.CreatedAt
	sc.UpdatedAt = Now()
	m.scenes[sc.ID] = *sc
	return nil
}

// Roles

func (m *MockStorage) CreateRole(ctx context.Context, r *screenplay.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	Stamp(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	m.roles[r.ID] = *r
	return nil
}

func (m *MockStorage) GetRole(ctx context.Context, screenplayID, id string) (*screenplay.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok || r.ScreenplayID != screenplayID {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MockStorage) ListRoles(ctx context.Context, screenplayID string) ([]screenplay.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.Role
	for _, r := range m.roles {
		if r.ScreenplayID == screenplayID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MockStorage) UpdateRole(ctx context.Context, r *screenplay.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.roles[r.ID]
	if !ok || old.ScreenplayID != r.ScreenplayID {
		return ErrNotFound
	}
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = Now()
	m.roles[r.ID] = *r
	return nil
}

// Dialogues

func (m *MockStorage) AppendDialogue(ctx context.Context, d *screenplay.Dialogue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendError != nil {
		if err := m.appendError(d); err != nil {
			return err
		}
	}
	d.TurnOrder = m.maxTurnOrderLocked(d.ScreenplayID, d.SceneID) + 1
	Stamp(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	m.dialogues = append(m.dialogues, *d)
	return nil
}

func (m *MockStorage) maxTurnOrderLocked(screenplayID, sceneID string) int {
	maxTurn := 0
	for _, d := range m.dialogues {
		if d.ScreenplayID == screenplayID && d.SceneID == sceneID && d.TurnOrder > maxTurn {
			maxTurn = d.TurnOrder
		}
	}
	return maxTurn
}

func (m *MockStorage) ListDialogues(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.Dialogue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.Dialogue
	for _, d := range m.dialogues {
		if d.ScreenplayID == ref.ScreenplayID && d.SceneID == ref.SceneID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnOrder < out[j].TurnOrder })
	return out, nil
}

func (m *MockStorage) RecentDialogues(ctx context.Context, ref screenplay.SceneRef, n int) ([]screenplay.Dialogue, error) {
	all, err := m.ListDialogues(ctx, ref)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func (m *MockStorage) LastDialogue(ctx context.Context, ref screenplay.SceneRef) (*screenplay.Dialogue, error) {
	all, err := m.ListDialogues(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	last := all[len(all)-1]
	return &last, nil
}

func (m *MockStorage) MaxTurnOrder(ctx context.Context, ref screenplay.SceneRef) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxTurnOrderLocked(ref.ScreenplayID, ref.SceneID), nil
}

// Appearances

func (m *MockStorage) InsertAppearance(ctx context.Context, a *screenplay.RoleAppearance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.appearances {
		if existing.IsActive && existing.ScreenplayID == a.ScreenplayID &&
			existing.SceneID == a.SceneID && existing.RoleID == a.RoleID {
			return apperrors.NewConflictError("role %s is already on stage", a.RoleID)
		}
	}
	Stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	m.appearances = append(m.appearances, *a)
	return nil
}

func (m *MockStorage) GetAppearance(ctx context.Context, ref screenplay.SceneRef, id string) (*screenplay.RoleAppearance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.appearances {
		if a.ID == id && a.ScreenplayID == ref.ScreenplayID && a.SceneID == ref.SceneID {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStorage) ListAppearances(ctx context.Context, ref screenplay.SceneRef, activeOnly bool) ([]screenplay.RoleAppearance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.RoleAppearance
	for _, a := range m.appearances {
		if a.ScreenplayID != ref.ScreenplayID || a.SceneID != ref.SceneID {
			continue
		}
		if activeOnly && !a.IsActive {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *MockStorage) CloseAppearance(ctx context.Context, ref screenplay.SceneRef, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.appearances {
		if a.ID != id || a.ScreenplayID != ref.ScreenplayID || a.SceneID != ref.SceneID {
			continue
		}
		if !a.IsActive {
			return 0, apperrors.NewNotActiveError("appearance %s is not active", id)
		}
		exit := m.maxTurnOrderLocked(ref.ScreenplayID, ref.SceneID)
		m.appearances[i].ExitTurn = &exit
		m.appearances[i].IsActive = false
		m.appearances[i].UpdatedAt = Now()
		return exit, nil
	}
	return 0, ErrNotFound
}

// Beliefs

func (m *MockStorage) InsertBelief(ctx context.Context, b *screenplay.RoleBelief) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	Stamp(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	m.beliefs = append(m.beliefs, *b)
	return nil
}

func (m *MockStorage) GetBelief(ctx context.Context, screenplayID, id string) (*screenplay.RoleBelief, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.beliefs {
		if b.ID == id && b.ScreenplayID == screenplayID {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStorage) ListBeliefs(ctx context.Context, screenplayID string, filter BeliefFilter) ([]screenplay.RoleBelief, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.RoleBelief
	for _, b := range m.beliefs {
		if b.ScreenplayID != screenplayID {
			continue
		}
		if filter.RoleID != "" && b.RoleID != filter.RoleID {
			continue
		}
		if filter.ActiveOnly && !b.IsActive {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MockStorage) SetBeliefActive(ctx context.Context, screenplayID, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.beliefs {
		if b.ID == id && b.ScreenplayID == screenplayID {
			m.beliefs[i].IsActive = active
			m.beliefs[i].UpdatedAt = Now()
			return nil
		}
	}
	return ErrNotFound
}

// Emotions

func (m *MockStorage) GetEmotion(ctx context.Context, ref screenplay.SceneRef, roleID string) (*screenplay.RoleEmotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.emotions {
		if e.ScreenplayID == ref.ScreenplayID && e.SceneID == ref.SceneID && e.RoleID == roleID {
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStorage) ListEmotions(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.RoleEmotion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.RoleEmotion
	for _, e := range m.emotions {
		if e.ScreenplayID == ref.ScreenplayID && e.SceneID == ref.SceneID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockStorage) UpsertEmotion(ctx context.Context, e *screenplay.RoleEmotion) error {
	e.Intensity = screenplay.ClampIntensity(e.Intensity)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.emotions {
		if existing.ScreenplayID == e.ScreenplayID && existing.SceneID == e.SceneID && existing.RoleID == e.RoleID {
			e.ID = existing.ID
			e.CreatedAt = existing.CreatedAt
			e.UpdatedAt = Now()
			m.emotions[i] = *e
			return nil
		}
	}
	Stamp(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	m.emotions = append(m.emotions, *e)
	return nil
}

// Latent clues

func (m *MockStorage) InsertClue(ctx context.Context, c *screenplay.RoleLatentClue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	Stamp(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	m.clues = append(m.clues, *c)
	return nil
}

func (m *MockStorage) GetClue(ctx context.Context, screenplayID, id string) (*screenplay.RoleLatentClue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clues {
		if c.ID == id && c.ScreenplayID == screenplayID {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStorage) ListClues(ctx context.Context, screenplayID string, filter ClueFilter) ([]screenplay.RoleLatentClue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.RoleLatentClue
	for _, c := range m.clues {
		if c.ScreenplayID != screenplayID {
			continue
		}
		if filter.RoleID != "" && c.RoleID != filter.RoleID {
			continue
		}
		if filter.OffstageOnly && c.SceneID != "" {
			continue
		}
		if filter.SceneID != "" && c.SceneID != filter.SceneID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MockStorage) SetClueStatus(ctx context.Context, screenplayID, id string, status screenplay.ClueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.clues {
		if c.ID == id && c.ScreenplayID == screenplayID {
			m.clues[i].Status = status
			m.clues[i].UpdatedAt = Now()
			return nil
		}
	}
	return ErrNotFound
}

// Director instructions

func (m *MockStorage) InsertInstruction(ctx context.Context, in *screenplay.DirectorInstruction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	Stamp(&in.ID, &in.CreatedAt, &in.UpdatedAt)
	m.instructions = append(m.instructions, *in)
	return nil
}

func (m *MockStorage) ListInstructions(ctx context.Context, ref screenplay.SceneRef, pendingOnly bool) ([]screenplay.DirectorInstruction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.DirectorInstruction
	for _, in := range m.instructions {
		if in.ScreenplayID != ref.ScreenplayID || in.SceneID != ref.SceneID {
			continue
		}
		if pendingOnly && in.IsActive {
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

func (m *MockStorage) MarkInstructionApplied(ctx context.Context, ref screenplay.SceneRef, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, in := range m.instructions {
		if in.ID == id && in.ScreenplayID == ref.ScreenplayID && in.SceneID == ref.SceneID {
			m.instructions[i].IsActive = true
			m.instructions[i].UpdatedAt = Now()
			return nil
		}
	}
	return ErrNotFound
}

// Screenplay log

func (m *MockStorage) InsertLog(ctx context.Context, l *screenplay.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	Stamp(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	m.logs = append(m.logs, *l)
	return nil
}

func (m *MockStorage) ListLogs(ctx context.Context, screenplayID string) ([]screenplay.Log, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []screenplay.Log
	for _, l := range m.logs {
		if l.ScreenplayID == screenplayID {
			out = append(out, l)
		}
	}
	return out, nil
}
