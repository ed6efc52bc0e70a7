package screenplay

import (
	"fmt"
	"strings"
	"time"
)

// Screenplay is the top-level story container. Every other entity is scoped to one.
type Screenplay struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Background string    `json:"background"`
	Tags       []string  `json:"tags"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TerminationStrategy tells the director when a scene may end.
type TerminationStrategy string

const (
	TerminationGoalDriven    TerminationStrategy = "goal_driven"
	TerminationTensionPeak   TerminationStrategy = "tension_peak"
	TerminationExternalEvent TerminationStrategy = "external_event"
	TerminationManual        TerminationStrategy = "manual"
)

func (t TerminationStrategy) Valid() bool {
	switch t {
	case TerminationGoalDriven, TerminationTensionPeak, TerminationExternalEvent, TerminationManual:
		return true
	}
	return false
}

// Goal holds the authored narrative intent shared by chapters and scenes.
// Scenes may refine or simply inherit their chapter's goal.
type Goal struct {
	NarrativeGoal       string              `json:"narrative_goal"`
	KeyClues            []string            `json:"key_clues"`
	RequiredRevelations []string            `json:"required_revelations"`
	TerminationStrategy TerminationStrategy `json:"termination_strategy"`
}

// Validate normalizes an empty strategy to goal_driven.
func (g *Goal) Validate() error {
	if g.TerminationStrategy == "" {
		g.TerminationStrategy = TerminationGoalDriven
	}
	if !g.TerminationStrategy.Valid() {
		return fmt.Errorf("invalid termination strategy: %s", g.TerminationStrategy)
	}
	return nil
}

// Chapter is ordered within a screenplay by Index, assigned as max+1 at creation.
type Chapter struct {
	ID           string `json:"id"`
	ScreenplayID string `json:"screenplay_id"`
	Index        int    `json:"index"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Goal
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scene belongs to one chapter and is ordered within the screenplay by OrderIndex.
type Scene struct {
	ID           string `json:"id"`
	ScreenplayID string `json:"screenplay_id"`
	ChapterID    string `json:"chapter_id"`
	OrderIndex   int    `json:"order_index"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Goal
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleType distinguishes characters from the special narrator and director roles.
type RoleType string

const (
	RoleTypeMember   RoleType = "member"
	RoleTypeNarrator RoleType = "narrator"
	RoleTypeAdmin    RoleType = "admin"
)

func (t RoleType) Valid() bool {
	switch t {
	case RoleTypeMember, RoleTypeNarrator, RoleTypeAdmin:
		return true
	}
	return false
}

// Role is a character, the narrator, or the director.
type Role struct {
	ID                string    `json:"id"`
	ScreenplayID      string    `json:"screenplay_id"`
	Type              RoleType  `json:"type"`
	Name              string    `json:"name"`
	Identity          string    `json:"identity"`
	SecretInfo        string    `json:"secret_info"`
	Personality       string    `json:"personality"`
	Model             string    `json:"model"`
	MinResponseLength int       `json:"min_response_length"`
	MaxResponseLength int       `json:"max_response_length"`
	Temperature       float64   `json:"temperature"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r Role) IsNarrator() bool { return r.Type == RoleTypeNarrator }

func (r Role) IsDirector() bool { return r.Type == RoleTypeAdmin }

// IsCharacter reports whether the role can be admitted to a scene and speak.
func (r Role) IsCharacter() bool { return r.Type == RoleTypeMember }

func (r Role) Validate() error {
	if strings.TrimSpace(r.ScreenplayID) == "" {
		return fmt.Errorf("screenplay_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid role type: %s", r.Type)
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if r.MaxResponseLength > 0 && r.MinResponseLength > r.MaxResponseLength {
		return fmt.Errorf("min_response_length must not exceed max_response_length")
	}
	return nil
}

// LogLevel is the severity of a screenplay log row.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// Log is a narrative-level audit entry, e.g. a director escalation.
type Log struct {
	ID           string    `json:"id"`
	ScreenplayID string    `json:"screenplay_id"`
	RoleID       string    `json:"role_id"`
	Level        LogLevel  `json:"level"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
