package screenplay

import (
	"fmt"
	"strings"
	"time"
)

// DialogueType is the kind of ledger event.
type DialogueType string

const (
	DialogueTypeRole     DialogueType = "role"
	DialogueTypeNarrator DialogueType = "narrator"
	DialogueTypeEvent    DialogueType = "event"
	DialogueTypeSystem   DialogueType = "system"
)

func (t DialogueType) Valid() bool {
	switch t {
	case DialogueTypeRole, DialogueTypeNarrator, DialogueTypeEvent, DialogueTypeSystem:
		return true
	}
	return false
}

// Dialogue is the atomic unit of the turn ledger. TurnOrder is unique and
// strictly increasing within a (screenplay, scene) pair.
type Dialogue struct {
	ID                    string       `json:"id"`
	ScreenplayID          string       `json:"screenplay_id"`
	SceneID               string       `json:"scene_id"`
	TurnOrder             int          `json:"turn_order"`
	Type                  DialogueType `json:"type"`
	RoleID                string       `json:"role_id"`
	Action                string       `json:"action"`
	Text                  string       `json:"dialogue"`
	DirectorInstructionID string       `json:"director_instruction_id,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// Validate checks the fields a caller supplies before the ledger assigns TurnOrder.
func (d Dialogue) Validate() error {
	if strings.TrimSpace(d.ScreenplayID) == "" {
		return fmt.Errorf("screenplay_id is required")
	}
	if strings.TrimSpace(d.SceneID) == "" {
		return fmt.Errorf("scene_id is required")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("invalid dialogue type: %q", d.Type)
	}
	if d.Type == DialogueTypeRole && strings.TrimSpace(d.RoleID) == "" {
		return fmt.Errorf("role_id is required for role dialogue")
	}
	return nil
}

// EntryType describes how a role walks on stage.
type EntryType string

const (
	EntryNormal   EntryType = "normal"
	EntryQuiet    EntryType = "quiet"
	EntryDramatic EntryType = "dramatic"
	EntrySudden   EntryType = "sudden"
)

func (e EntryType) Valid() bool {
	switch e {
	case EntryNormal, EntryQuiet, EntryDramatic, EntrySudden:
		return true
	}
	return false
}

// Label is the phrase used when narrating the entrance.
func (e EntryType) Label() string {
	switch e {
	case EntryQuiet:
		return "悄悄入场"
	case EntryDramatic:
		return "戏剧性入场"
	case EntrySudden:
		return "突发入场"
	default:
		return "正常入场"
	}
}

// RoleAppearance is the presence window of a role within a scene.
// ExitTurn is nil while the role is on stage.
type RoleAppearance struct {
	ID           string    `json:"id"`
	ScreenplayID string    `json:"screenplay_id"`
	SceneID      string    `json:"scene_id"`
	RoleID       string    `json:"role_id"`
	EnterTurn    int       `json:"enter_turn"`
	ExitTurn     *int      `json:"exit_turn,omitempty"`
	IsActive     bool      `json:"is_active"`
	EntryType    EntryType `json:"entry_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SceneRef identifies a scene together with the screenplay that scopes it.
type SceneRef struct {
	ScreenplayID string `json:"screenplay_id"`
	SceneID      string `json:"scene_id"`
}

func (r SceneRef) Validate() error {
	if strings.TrimSpace(r.ScreenplayID) == "" {
		return fmt.Errorf("screenplay_id is required")
	}
	if strings.TrimSpace(r.SceneID) == "" {
		return fmt.Errorf("scene_id is required")
	}
	return nil
}

func (r SceneRef) String() string {
	return r.ScreenplayID + "/" + r.SceneID
}
