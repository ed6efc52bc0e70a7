package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/screenplay-engine/internal/apperrors"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// ErrNotFound is returned by every Get* when the row does not exist.
var ErrNotFound = apperrors.New(apperrors.ErrorTypeNotFound, "record not found", nil)

// BeliefFilter narrows ListBeliefs. Zero values match everything.
type BeliefFilter struct {
	RoleID     string
	ActiveOnly bool
}

// ClueFilter narrows ListClues. An empty SceneID matches clues in any scene
// unless OffstageOnly is set.
type ClueFilter struct {
	RoleID       string
	SceneID      string
	OffstageOnly bool
	Status       screenplay.ClueStatus
}

// Store defines typed persistence for every screenplay entity.
// All methods are scoped by screenplay id and, where applicable, scene id.
type Store interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Screenplays
	CreateScreenplay(ctx context.Context, sp *screenplay.Screenplay) error
	GetScreenplay(ctx context.Context, id string) (*screenplay.Screenplay, error)
	ListScreenplays(ctx context.Context) ([]screenplay.Screenplay, error)
	UpdateScreenplay(ctx context.Context, sp *screenplay.Screenplay) error

	// Chapters. CreateChapter assigns Index as max+1 within the screenplay.
	CreateChapter(ctx context.Context, ch *screenplay.Chapter) error
	GetChapter(ctx context.Context, screenplayID, id string) (*screenplay.Chapter, error)
	ListChapters(ctx context.Context, screenplayID string) ([]screenplay.Chapter, error)
	UpdateChapter(ctx context.Context, ch *screenplay.Chapter) error
	// DeleteChapter removes the chapter and its scenes. Only the chapter with
	// the highest index may be deleted.
	DeleteChapter(ctx context.Context, screenplayID, id string) error

	// Scenes. CreateScene assigns OrderIndex as max+1 within the screenplay.
	CreateScene(ctx context.Context, sc *screenplay.Scene) error
	GetScene(ctx context.Context, screenplayID, id string) (*screenplay.Scene, error)
	ListScenes(ctx context.Context, screenplayID, chapterID string) ([]screenplay.Scene, error)
	UpdateScene(ctx context.Context, sc *screenplay.Scene) error

	// Roles
	CreateRole(ctx context.Context, r *screenplay.Role) error
	GetRole(ctx context.Context, screenplayID, id string) (*screenplay.Role, error)
	ListRoles(ctx context.Context, screenplayID string) ([]screenplay.Role, error)
	UpdateRole(ctx context.Context, r *screenplay.Role) error

	// Dialogues. AppendDialogue assigns TurnOrder as max+1 within the scene
	// inside a single transaction.
	AppendDialogue(ctx context.Context, d *screenplay.Dialogue) error
	ListDialogues(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.Dialogue, error)
	// RecentDialogues returns at most n dialogues, oldest first.
	RecentDialogues(ctx context.Context, ref screenplay.SceneRef, n int) ([]screenplay.Dialogue, error)
	LastDialogue(ctx context.Context, ref screenplay.SceneRef) (*screenplay.Dialogue, error)
	MaxTurnOrder(ctx context.Context, ref screenplay.SceneRef) (int, error)

	// Appearances
	InsertAppearance(ctx context.Context, a *screenplay.RoleAppearance) error
	GetAppearance(ctx context.Context, ref screenplay.SceneRef, id string) (*screenplay.RoleAppearance, error)
	ListAppearances(ctx context.Context, ref screenplay.SceneRef, activeOnly bool) ([]screenplay.RoleAppearance, error)
	// CloseAppearance deactivates an appearance, stamping exit_turn with the
	// scene's max turn_order read in the same transaction, and returns it.
	CloseAppearance(ctx context.Context, ref screenplay.SceneRef, id string) (int, error)

	// Beliefs
	InsertBelief(ctx context.Context, b *screenplay.RoleBelief) error
	GetBelief(ctx context.Context, screenplayID, id string) (*screenplay.RoleBelief, error)
	ListBeliefs(ctx context.Context, screenplayID string, filter BeliefFilter) ([]screenplay.RoleBelief, error)
	SetBeliefActive(ctx context.Context, screenplayID, id string, active bool) error

	// Emotions, unique per (screenplay, scene, role)
	GetEmotion(ctx context.Context, ref screenplay.SceneRef, roleID string) (*screenplay.RoleEmotion, error)
	ListEmotions(ctx context.Context, ref screenplay.SceneRef) ([]screenplay.RoleEmotion, error)
	UpsertEmotion(ctx context.Context, e *screenplay.RoleEmotion) error

	// Latent clues
	InsertClue(ctx context.Context, c *screenplay.RoleLatentClue) error
	GetClue(ctx context.Context, screenplayID, id string) (*screenplay.RoleLatentClue, error)
	ListClues(ctx context.Context, screenplayID string, filter ClueFilter) ([]screenplay.RoleLatentClue, error)
	SetClueStatus(ctx context.Context, screenplayID, id string, status screenplay.ClueStatus) error

	// Director instructions, listed in creation order
	InsertInstruction(ctx context.Context, in *screenplay.DirectorInstruction) error
	ListInstructions(ctx context.Context, ref screenplay.SceneRef, pendingOnly bool) ([]screenplay.DirectorInstruction, error)
	MarkInstructionApplied(ctx context.Context, ref screenplay.SceneRef, id string) error

	// Screenplay log
	InsertLog(ctx context.Context, l *screenplay.Log) error
	ListLogs(ctx context.Context, screenplayID string) ([]screenplay.Log, error)
}

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current time truncated to the millisecond precision rows
// are stored with.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Stamp assigns an id (when empty) and timestamps for an insert.
func Stamp(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = NewID()
	}
	now := Now()
	*createdAt = now
	*updatedAt = now
}
