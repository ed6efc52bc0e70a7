package screenplay

// SceneContext is the explicit state threaded through every ledger and protocol
// call for one scene: the screenplay, the scene, the full cast, who is on stage,
// and the recent window of the ledger.
type SceneContext struct {
	Screenplay Screenplay
	Scene      Scene
	Cast       []Role
	Present    []Role
	Recent     []Dialogue
}

func (c *SceneContext) Ref() SceneRef {
	return SceneRef{ScreenplayID: c.Screenplay.ID, SceneID: c.Scene.ID}
}

// Role looks a role up in the full cast.
func (c *SceneContext) Role(id string) (Role, bool) {
	for _, r := range c.Cast {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// RoleName returns the role's name, or the id itself when the role is unknown.
func (c *SceneContext) RoleName(id string) string {
	if r, ok := c.Role(id); ok {
		return r.Name
	}
	return id
}

func (c *SceneContext) IsPresent(id string) bool {
	for _, r := range c.Present {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Narrator returns the first narrator role of the cast.
func (c *SceneContext) Narrator() (Role, bool) {
	for _, r := range c.Cast {
		if r.IsNarrator() {
			return r, true
		}
	}
	return Role{}, false
}

// Director returns the first admin role of the cast.
func (c *SceneContext) Director() (Role, bool) {
	for _, r := range c.Cast {
		if r.IsDirector() {
			return r, true
		}
	}
	return Role{}, false
}

// Offstage returns the characters that could still enter the scene.
func (c *SceneContext) Offstage() []Role {
	var out []Role
	for _, r := range c.Cast {
		if r.IsCharacter() && !c.IsPresent(r.ID) {
			out = append(out, r)
		}
	}
	return out
}

// Window returns at most the last n dialogues of Recent.
func (c *SceneContext) Window(n int) []Dialogue {
	if n <= 0 || len(c.Recent) <= n {
		return c.Recent
	}
	return c.Recent[len(c.Recent)-n:]
}
