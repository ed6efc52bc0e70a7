package screenplay

import (
	"encoding/json"
	"testing"
)

func TestDialogueValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Dialogue
		wantErr bool
	}{
		{
			name: "narrator without role",
			d:    Dialogue{ScreenplayID: "sp", SceneID: "sc", Type: DialogueTypeNarrator, Text: "Rain."},
		},
		{
			name:    "role dialogue requires role id",
			d:       Dialogue{ScreenplayID: "sp", SceneID: "sc", Type: DialogueTypeRole, Text: "Hi."},
			wantErr: true,
		},
		{
			name:    "unknown type",
			d:       Dialogue{ScreenplayID: "sp", SceneID: "sc", Type: "aside"},
			wantErr: true,
		},
		{
			name:    "missing scene",
			d:       Dialogue{ScreenplayID: "sp", Type: DialogueTypeEvent},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClampIntensity(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, 0},
		{0, 0},
		{70, 70},
		{100, 100},
		{130, 100},
	}
	for _, tt := range tests {
		if got := ClampIntensity(tt.in); got != tt.want {
			t.Errorf("ClampIntensity(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDecodeInstructionParams(t *testing.T) {
	tests := []struct {
		name     string
		kind     InstructionKind
		raw      string
		wantRefs []string
		wantErr  bool
	}{
		{
			name:     "character slip",
			kind:     InstructionCharacterSlip,
			raw:      `{"target_role_id":"r1","content":"I was there."}`,
			wantRefs: []string{"r1"},
		},
		{
			name:    "character slip without content",
			kind:    InstructionCharacterSlip,
			raw:     `{"target_role_id":"r1"}`,
			wantErr: true,
		},
		{
			name:     "reveal item",
			kind:     InstructionRevealItem,
			raw:      `{"item_desc":"a cracked pocket watch","discoverer_id":"r2"}`,
			wantRefs: []string{"r2"},
		},
		{
			name: "external event has no role refs",
			kind: InstructionExternalEvent,
			raw:  `{"description":"sirens outside"}`,
		},
		{
			name:     "skip turn",
			kind:     InstructionSkipTurn,
			raw:      `{"role_id":"r3"}`,
			wantRefs: []string{"r3"},
		},
		{
			name:     "trigger emotion",
			kind:     InstructionTriggerEmotion,
			raw:      `{"role_id":"r1","emotion":"anger","delta":30}`,
			wantRefs: []string{"r1"},
		},
		{
			name:    "trigger emotion with zero delta",
			kind:    InstructionTriggerEmotion,
			raw:     `{"role_id":"r1","emotion":"anger","delta":0}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			kind:    InstructionSkipTurn,
			raw:     `{"role_id":`,
			wantErr: true,
		},
		{
			name:    "unknown kind",
			kind:    "summon_ghost",
			raw:     `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodeInstructionParams(tt.kind, json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got params %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Kind() != tt.kind {
				t.Errorf("Kind() = %s, want %s", p.Kind(), tt.kind)
			}
			refs := p.RoleRefs()
			if len(refs) != len(tt.wantRefs) {
				t.Fatalf("RoleRefs() = %v, want %v", refs, tt.wantRefs)
			}
			for i := range refs {
				if refs[i] != tt.wantRefs[i] {
					t.Errorf("RoleRefs()[%d] = %s, want %s", i, refs[i], tt.wantRefs[i])
				}
			}
		})
	}
}

func TestSceneContext(t *testing.T) {
	alice := Role{ID: "a", Name: "Alice", Type: RoleTypeMember}
	bob := Role{ID: "b", Name: "Bob", Type: RoleTypeMember}
	narrator := Role{ID: "n", Name: "Narrator", Type: RoleTypeNarrator}
	director := Role{ID: "d", Name: "Director", Type: RoleTypeAdmin}

	sc := &SceneContext{
		Screenplay: Screenplay{ID: "sp"},
		Scene:      Scene{ID: "sc"},
		Cast:       []Role{alice, bob, narrator, director},
		Present:    []Role{alice},
		Recent: []Dialogue{
			{TurnOrder: 1}, {TurnOrder: 2}, {TurnOrder: 3},
		},
	}

	if ref := sc.Ref(); ref.ScreenplayID != "sp" || ref.SceneID != "sc" {
		t.Errorf("unexpected ref %+v", ref)
	}
	if got := sc.RoleName("b"); got != "Bob" {
		t.Errorf("RoleName(b) = %s", got)
	}
	if got := sc.RoleName("ghost"); got != "ghost" {
		t.Errorf("RoleName(ghost) = %s", got)
	}
	if n, ok := sc.Narrator(); !ok || n.ID != "n" {
		t.Errorf("Narrator() = %+v, %v", n, ok)
	}
	if d, ok := sc.Director(); !ok || d.ID != "d" {
		t.Errorf("Director() = %+v, %v", d, ok)
	}
	off := sc.Offstage()
	if len(off) != 1 || off[0].ID != "b" {
		t.Errorf("Offstage() = %+v, want only Bob", off)
	}
	if w := sc.Window(2); len(w) != 2 || w[0].TurnOrder != 2 {
		t.Errorf("Window(2) = %+v", w)
	}
	if w := sc.Window(0); len(w) != 3 {
		t.Errorf("Window(0) should return everything, got %d", len(w))
	}
}
