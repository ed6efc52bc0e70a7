package screenplay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// InstructionKind is the closed set of manual director overrides.
type InstructionKind string

const (
	InstructionCharacterSlip  InstructionKind = "character_slip"
	InstructionRevealItem     InstructionKind = "reveal_item"
	InstructionExternalEvent  InstructionKind = "external_event"
	InstructionSkipTurn       InstructionKind = "skip_turn"
	InstructionTriggerEmotion InstructionKind = "trigger_emotion"
)

// InstructionKinds lists every kind in a stable order.
var InstructionKinds = []InstructionKind{
	InstructionCharacterSlip,
	InstructionRevealItem,
	InstructionExternalEvent,
	InstructionSkipTurn,
	InstructionTriggerEmotion,
}

func ParseInstructionKind(s string) (InstructionKind, error) {
	k := InstructionKind(strings.TrimSpace(s))
	for _, known := range InstructionKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown instruction: %q", s)
}

// InstructionParams is implemented only by the params structs in this package.
type InstructionParams interface {
	Kind() InstructionKind
	Validate() error
	// RoleRefs returns the role ids that must be on stage when the instruction is issued.
	RoleRefs() []string
	isInstructionParams()
}

type CharacterSlipParams struct {
	TargetRoleID string `json:"target_role_id"`
	Content      string `json:"content"`
}

func (CharacterSlipParams) Kind() InstructionKind { return InstructionCharacterSlip }
func (p CharacterSlipParams) RoleRefs() []string  { return []string{p.TargetRoleID} }
func (CharacterSlipParams) isInstructionParams()  {}

func (p CharacterSlipParams) Validate() error {
	if strings.TrimSpace(p.TargetRoleID) == "" {
		return fmt.Errorf("target_role_id is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

type RevealItemParams struct {
	ItemDesc     string `json:"item_desc"`
	DiscovererID string `json:"discoverer_id"`
}

func (RevealItemParams) Kind() InstructionKind { return InstructionRevealItem }
func (p RevealItemParams) RoleRefs() []string  { return []string{p.DiscovererID} }
func (RevealItemParams) isInstructionParams()  {}

func (p RevealItemParams) Validate() error {
	if strings.TrimSpace(p.ItemDesc) == "" {
		return fmt.Errorf("item_desc is required")
	}
	if strings.TrimSpace(p.DiscovererID) == "" {
		return fmt.Errorf("discoverer_id is required")
	}
	return nil
}

type ExternalEventParams struct {
	Description string `json:"description"`
}

func (ExternalEventParams) Kind() InstructionKind { return InstructionExternalEvent }
func (ExternalEventParams) RoleRefs() []string    { return nil }
func (ExternalEventParams) isInstructionParams()  {}

func (p ExternalEventParams) Validate() error {
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("description is required")
	}
	return nil
}

type SkipTurnParams struct {
	RoleID string `json:"role_id"`
}

func (SkipTurnParams) Kind() InstructionKind { return InstructionSkipTurn }
func (p SkipTurnParams) RoleRefs() []string  { return []string{p.RoleID} }
func (SkipTurnParams) isInstructionParams()  {}

func (p SkipTurnParams) Validate() error {
	if strings.TrimSpace(p.RoleID) == "" {
		return fmt.Errorf("role_id is required")
	}
	return nil
}

type TriggerEmotionParams struct {
	RoleID  string `json:"role_id"`
	Emotion string `json:"emotion"`
	Delta   int    `json:"delta"`
}

func (TriggerEmotionParams) Kind() InstructionKind { return InstructionTriggerEmotion }
func (p TriggerEmotionParams) RoleRefs() []string  { return []string{p.RoleID} }
func (TriggerEmotionParams) isInstructionParams()  {}

func (p TriggerEmotionParams) Validate() error {
	if strings.TrimSpace(p.RoleID) == "" {
		return fmt.Errorf("role_id is required")
	}
	if strings.TrimSpace(p.Emotion) == "" {
		return fmt.Errorf("emotion is required")
	}
	if p.Delta == 0 {
		return fmt.Errorf("delta must not be zero")
	}
	return nil
}

// DecodeInstructionParams parses raw JSON params for the given kind and validates them.
func DecodeInstructionParams(kind InstructionKind, raw json.RawMessage) (InstructionParams, error) {
	var params InstructionParams
	var err error
	switch kind {
	case InstructionCharacterSlip:
		var p CharacterSlipParams
		err = json.Unmarshal(raw, &p)
		params = p
	case InstructionRevealItem:
		var p RevealItemParams
		err = json.Unmarshal(raw, &p)
		params = p
	case InstructionExternalEvent:
		var p ExternalEventParams
		err = json.Unmarshal(raw, &p)
		params = p
	case InstructionSkipTurn:
		var p SkipTurnParams
		err = json.Unmarshal(raw, &p)
		params = p
	case InstructionTriggerEmotion:
		var p TriggerEmotionParams
		err = json.Unmarshal(raw, &p)
		params = p
	default:
		return nil, fmt.Errorf("unknown instruction: %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s params: %w", kind, err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s params: %w", kind, err)
	}
	return params, nil
}

// DirectorInstruction is a manual override anchored to the last dialogue of the
// scene at the time it was issued. IsActive flips to true once it is applied.
type DirectorInstruction struct {
	ID           string          `json:"id"`
	ScreenplayID string          `json:"screenplay_id"`
	SceneID      string          `json:"scene_id"`
	Kind         InstructionKind `json:"instruction"`
	Params       json.RawMessage `json:"params"`
	DialogueID   string          `json:"dialogue_id"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (i DirectorInstruction) DecodeParams() (InstructionParams, error) {
	return DecodeInstructionParams(i.Kind, i.Params)
}
