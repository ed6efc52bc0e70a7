package screenplay

import (
	"fmt"
)

// Seed is the file format used to author a whole screenplay offline: the
// story, its cast, and its chapters with their scenes.
type Seed struct {
	Title      string        `json:"title"`
	Background string        `json:"background"`
	Tags       []string      `json:"tags,omitempty"`
	Roles      []SeedRole    `json:"roles"`
	Chapters   []SeedChapter `json:"chapters"`
}

type SeedRole struct {
	Type              RoleType `json:"type"`
	Name              string   `json:"name"`
	Identity          string   `json:"identity,omitempty"`
	SecretInfo        string   `json:"secret_info,omitempty"`
	Personality       string   `json:"personality,omitempty"`
	Model             string   `json:"model,omitempty"`
	MinResponseLength int      `json:"min_response_length,omitempty"`
	MaxResponseLength int      `json:"max_response_length,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
}

type SeedChapter struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Goal
	Scenes []SeedScene `json:"scenes"`
}

// SeedScene inherits any goal field it leaves empty from its chapter.
type SeedScene struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Goal
}

// Problems lists everything wrong with the seed; an empty result means it can
// be imported.
func (s *Seed) Problems() []string {
	var out []string
	add := func(format string, args ...any) {
		out = append(out, fmt.Sprintf(format, args...))
	}

	if s.Title == "" {
		add("title is required")
	}

	names := make(map[string]bool, len(s.Roles))
	narrators, directors := 0, 0
	for i, r := range s.Roles {
		role := r.Role("seed")
		if err := role.Validate(); err != nil {
			add("role %d (%s): %v", i+1, r.Name, err)
		}
		if names[r.Name] {
			add("role name %q is used twice", r.Name)
		}
		names[r.Name] = true
		switch r.Type {
		case RoleTypeNarrator:
			narrators++
		case RoleTypeAdmin:
			directors++
		}
	}
	if narrators == 0 {
		add("a narrator role is required")
	}
	if directors == 0 {
		add("a director (admin) role is required")
	}

	if len(s.Chapters) == 0 {
		add("at least one chapter is required")
	}
	for i := range s.Chapters {
		ch := &s.Chapters[i]
		if ch.Title == "" {
			add("chapter %d: title is required", i+1)
		}
		if err := ch.Goal.Validate(); err != nil {
			add("chapter %d: %v", i+1, err)
		}
		if len(ch.Scenes) == 0 {
			add("chapter %d: at least one scene is required", i+1)
		}
		for j := range ch.Scenes {
			sc := ch.SceneGoal(j)
			if err := sc.Validate(); err != nil {
				add("chapter %d scene %d: %v", i+1, j+1, err)
			}
		}
	}
	return out
}

// Role converts the seed entry into a Role of the given screenplay.
func (r SeedRole) Role(screenplayID string) Role {
	return Role{
		ScreenplayID:      screenplayID,
		Type:              r.Type,
		Name:              r.Name,
		Identity:          r.Identity,
		SecretInfo:        r.SecretInfo,
		Personality:       r.Personality,
		Model:             r.Model,
		MinResponseLength: r.MinResponseLength,
		MaxResponseLength: r.MaxResponseLength,
		Temperature:       r.Temperature,
	}
}

// SceneGoal returns the goal of scene i with empty fields taken from the chapter.
func (c *SeedChapter) SceneGoal(i int) Goal {
	g := c.Scenes[i].Goal
	if g.NarrativeGoal == "" {
		g.NarrativeGoal = c.NarrativeGoal
	}
	if len(g.KeyClues) == 0 {
		g.KeyClues = c.KeyClues
	}
	if len(g.RequiredRevelations) == 0 {
		g.RequiredRevelations = c.RequiredRevelations
	}
	if g.TerminationStrategy == "" {
		g.TerminationStrategy = c.TerminationStrategy
	}
	return g
}
