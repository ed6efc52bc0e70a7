package screenplay

import "time"

// Emotion intensity bounds.
const (
	MinIntensity = 0
	MaxIntensity = 100
	// DefaultIntensity is shown to the director for roles with no recorded emotion.
	DefaultIntensity = 60
)

// ClampIntensity keeps an intensity inside [MinIntensity, MaxIntensity].
func ClampIntensity(v int) int {
	if v < MinIntensity {
		return MinIntensity
	}
	if v > MaxIntensity {
		return MaxIntensity
	}
	return v
}

// RoleBelief is a character's subjective inference. Beliefs are never deleted;
// retraction flips IsActive.
type RoleBelief struct {
	ID               string    `json:"id"`
	ScreenplayID     string    `json:"screenplay_id"`
	RoleID           string    `json:"role_id"`
	Content          string    `json:"content"`
	Confidence       float64   `json:"confidence"`
	SourceDialogueID string    `json:"source_dialogue_id"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RoleEmotion is the current emotional state of a role within a scene.
type RoleEmotion struct {
	ID           string    `json:"id"`
	ScreenplayID string    `json:"screenplay_id"`
	SceneID      string    `json:"scene_id"`
	RoleID       string    `json:"role_id"`
	EmotionType  string    `json:"emotion_type"`
	Intensity    int       `json:"intensity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ClueStatus is the lifecycle state of a latent clue.
type ClueStatus string

const (
	ClueActive    ClueStatus = "active"
	ClueResolved  ClueStatus = "resolved"
	ClueDiscarded ClueStatus = "discarded"
)

func (s ClueStatus) Valid() bool {
	switch s {
	case ClueActive, ClueResolved, ClueDiscarded:
		return true
	}
	return false
}

// Terminal reports whether the status ends the clue's lifecycle.
func (s ClueStatus) Terminal() bool {
	return s == ClueResolved || s == ClueDiscarded
}

// RoleLatentClue is a planted fact. An empty SceneID marks an off-stage clue.
type RoleLatentClue struct {
	ID               string     `json:"id"`
	ScreenplayID     string     `json:"screenplay_id"`
	RoleID           string     `json:"role_id"`
	SceneID          string     `json:"scene_id"`
	Content          string     `json:"content"`
	SourceDialogueID string     `json:"source_dialogue_id"`
	Status           ClueStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
